package gpu

import (
	"fmt"
	"sync"
)

// Validate performs the checks that do not depend on provider state: copy
// compatibility, fill sizes, grid sizes and the barrier discipline. Every
// command touching a resource that an earlier command in the same list
// wrote must be preceded by a barrier covering that resource.
func Validate(cmds *CommandList) error {
	pending := make(map[uint32]string)

	touch := func(idx int, cmd Command, res Resource) error {
		if writer, dirty := pending[res.ID()]; dirty {
			return fmt.Errorf("%w: command %d (%s) accesses %q written by %s", ErrMissingBarrier, idx, cmd, res.Name(), writer)
		}
		return nil
	}

	for idx, cmd := range cmds.Commands() {
		switch cmd.Kind {
		case CmdDispatch:
			if cmd.Width <= 0 || cmd.Height <= 0 {
				return fmt.Errorf("%w: command %d (%s)", ErrInvalidSize, idx, cmd)
			}
			for _, res := range cmd.Pipeline.Resources() {
				if err := touch(idx, cmd, res); err != nil {
					return err
				}
			}
			for _, res := range cmd.Pipeline.Writes() {
				pending[res.ID()] = cmd.String()
			}
		case CmdCopyImage:
			if cmd.Src.Format() != cmd.Dst.Format() || cmd.Src.Width() != cmd.Dst.Width() || cmd.Src.Height() != cmd.Dst.Height() {
				return fmt.Errorf("%w: command %d (%s)", ErrFormatMismatch, idx, cmd)
			}
			if cmd.Src.ID() == cmd.Dst.ID() {
				return fmt.Errorf("%w: command %d copies %q onto itself", ErrAliasedBinding, idx, cmd.Src.Name())
			}
			if err := touch(idx, cmd, cmd.Src); err != nil {
				return err
			}
			if err := touch(idx, cmd, cmd.Dst); err != nil {
				return err
			}
			pending[cmd.Dst.ID()] = cmd.String()
		case CmdFill:
			if len(cmd.Value) > cmd.Dst.Format().Channels() {
				return fmt.Errorf("%w: command %d fills %d channels into %s image %q", ErrFormatMismatch, idx, len(cmd.Value), cmd.Dst.Format(), cmd.Dst.Name())
			}
			if err := touch(idx, cmd, cmd.Dst); err != nil {
				return err
			}
			pending[cmd.Dst.ID()] = cmd.String()
		case CmdTransition:
			if err := touch(idx, cmd, cmd.Dst); err != nil {
				return err
			}
		case CmdBarrier:
			if len(cmd.Resources) == 0 {
				pending = make(map[uint32]string)
				continue
			}
			for _, res := range cmd.Resources {
				delete(pending, res.ID())
			}
		}
	}

	return nil
}

// Returns true if the layout transition is supported.
func SupportedTransition(from, to Layout) bool {
	return from == LayoutUndefined && to == LayoutGeneral
}

// LayoutTable tracks the current layout of every image owned by a provider.
type LayoutTable struct {
	mu      sync.Mutex
	layouts map[uint32]Layout
}

// Create an empty layout table.
func NewLayoutTable() *LayoutTable {
	return &LayoutTable{layouts: make(map[uint32]Layout)}
}

// Start tracking an image; new images are in the undefined layout.
func (t *LayoutTable) Track(img *Image) {
	t.mu.Lock()
	t.layouts[img.ID()] = LayoutUndefined
	t.mu.Unlock()
}

// Stop tracking an image.
func (t *LayoutTable) Forget(id uint32) {
	t.mu.Lock()
	delete(t.layouts, id)
	t.mu.Unlock()
}

// Ensure that img is tracked and in the requested layout.
func (t *LayoutTable) Require(img *Image, layout Layout) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.require(t.layouts, img, layout)
}

func (t *LayoutTable) require(layouts map[uint32]Layout, img *Image, layout Layout) error {
	cur, tracked := layouts[img.ID()]
	if !tracked {
		return fmt.Errorf("%w: image %q", ErrReleased, img.Name())
	}
	if cur != layout {
		return fmt.Errorf("%w: image %q is %s; expected %s", ErrInvalidLayout, img.Name(), cur, layout)
	}
	return nil
}

// Apply the transitions in cmds after checking that every command finds its
// images in a valid layout. The table is left untouched if validation fails.
func (t *LayoutTable) Apply(cmds *CommandList) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[uint32]Layout, len(t.layouts))
	for id, l := range t.layouts {
		next[id] = l
	}

	requireGeneral := func(res Resource) error {
		img, isImage := res.(*Image)
		if !isImage {
			return nil
		}
		return t.require(next, img, LayoutGeneral)
	}

	for idx, cmd := range cmds.Commands() {
		switch cmd.Kind {
		case CmdTransition:
			if err := t.require(next, cmd.Dst, cmd.From); err != nil {
				return fmt.Errorf("%w: command %d (%s): %v", ErrUnsupportedTransition, idx, cmd, err)
			}
			if !SupportedTransition(cmd.From, cmd.To) {
				return fmt.Errorf("%w: command %d (%s)", ErrUnsupportedTransition, idx, cmd)
			}
			next[cmd.Dst.ID()] = cmd.To
		case CmdDispatch:
			for _, res := range cmd.Pipeline.Resources() {
				if err := requireGeneral(res); err != nil {
					return fmt.Errorf("command %d (%s): %w", idx, cmd, err)
				}
			}
		case CmdCopyImage:
			if err := requireGeneral(cmd.Src); err != nil {
				return fmt.Errorf("command %d (%s): %w", idx, cmd, err)
			}
			if err := requireGeneral(cmd.Dst); err != nil {
				return fmt.Errorf("command %d (%s): %w", idx, cmd, err)
			}
		case CmdFill:
			if err := requireGeneral(cmd.Dst); err != nil {
				return fmt.Errorf("command %d (%s): %w", idx, cmd, err)
			}
		}
	}

	t.layouts = next
	return nil
}
