package gpu

import "fmt"

// The type of a recorded command.
type CommandKind uint8

const (
	CmdDispatch CommandKind = iota
	CmdCopyImage
	CmdFill
	CmdBarrier
	CmdTransition
)

func (k CommandKind) String() string {
	switch k {
	case CmdDispatch:
		return "dispatch"
	case CmdCopyImage:
		return "copy"
	case CmdFill:
		return "fill"
	case CmdBarrier:
		return "barrier"
	case CmdTransition:
		return "transition"
	}
	panic("gpu: unsupported command kind")
}

// A single recorded command. Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	// Dispatch.
	Pipeline *Pipeline
	Push     []float32
	Width    int
	Height   int

	// Copy / fill / transition.
	Src   *Image
	Dst   *Image
	Value []float32
	From  Layout
	To    Layout

	// Barrier; an empty list acts as a full barrier.
	Resources []Resource
}

func (c Command) String() string {
	switch c.Kind {
	case CmdDispatch:
		return fmt.Sprintf("dispatch %s (%dx%d)", c.Pipeline.Kernel().Name, c.Width, c.Height)
	case CmdCopyImage:
		return fmt.Sprintf("copy %s -> %s", c.Src.Name(), c.Dst.Name())
	case CmdFill:
		return fmt.Sprintf("fill %s", c.Dst.Name())
	case CmdBarrier:
		return fmt.Sprintf("barrier (%d resources)", len(c.Resources))
	}
	return fmt.Sprintf("transition %s %s -> %s", c.Dst.Name(), c.From, c.To)
}

// CommandList records commands for a single submission.
type CommandList struct {
	commands []Command
}

// Create an empty command list.
func NewCommandList() *CommandList {
	return &CommandList{}
}

// Record a kernel dispatch over a width x height grid. The push constant
// block is copied.
func (cl *CommandList) Dispatch(p *Pipeline, push []float32, width, height int) {
	cl.commands = append(cl.commands, Command{
		Kind:     CmdDispatch,
		Pipeline: p,
		Push:     append([]float32(nil), push...),
		Width:    width,
		Height:   height,
	})
}

// Record an image to image copy.
func (cl *CommandList) CopyImage(src, dst *Image) {
	cl.commands = append(cl.commands, Command{Kind: CmdCopyImage, Src: src, Dst: dst})
}

// Record a fill of every texel of img with value.
func (cl *CommandList) Fill(img *Image, value ...float32) {
	cl.commands = append(cl.commands, Command{Kind: CmdFill, Dst: img, Value: append([]float32(nil), value...)})
}

// Record a memory barrier that makes prior writes to the listed resources
// visible to subsequent commands. Without arguments it covers all resources.
func (cl *CommandList) Barrier(resources ...Resource) {
	cl.commands = append(cl.commands, Command{Kind: CmdBarrier, Resources: resources})
}

// Record an image layout transition.
func (cl *CommandList) Transition(img *Image, from, to Layout) {
	cl.commands = append(cl.commands, Command{Kind: CmdTransition, Dst: img, From: from, To: to})
}

// Append all commands from another list.
func (cl *CommandList) Append(other *CommandList) {
	cl.commands = append(cl.commands, other.commands...)
}

// Get the recorded commands.
func (cl *CommandList) Commands() []Command {
	return cl.commands
}

// Number of recorded commands.
func (cl *CommandList) Len() int {
	return len(cl.commands)
}

// Number of recorded dispatches.
func (cl *CommandList) DispatchCount() int {
	count := 0
	for _, c := range cl.commands {
		if c.Kind == CmdDispatch {
			count++
		}
	}
	return count
}

// Clear the list so it can be reused.
func (cl *CommandList) Reset() {
	cl.commands = cl.commands[:0]
}
