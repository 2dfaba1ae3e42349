package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const (
	// MaxDescriptorTables bounds the root parameters of a layout; the binder
	// tracks tables in 32-bit masks.
	MaxDescriptorTables = 16
	// MaxDescriptorsPerTable bounds a single table; assigned slots are
	// tracked in a 64-bit mask.
	MaxDescriptorsPerTable = 64
)

var (
	ErrInvalidLayout   = errors.New("pipeline: invalid binding layout")
	ErrInvalidPipeline = errors.New("pipeline: invalid pipeline state")
)

// SlotKey names a shader register of a given descriptor kind.
type SlotKey struct {
	Type metadata.DescriptorType
	Slot uint32
}

// SlotLocation is where a logical slot lives: the root parameter index of
// its table and the offset inside that table.
type SlotLocation struct {
	Table  uint32
	Offset uint32
}

// SlotBinding is the (slot, table, offset) triple reflection hands to the binder.
type SlotBinding struct {
	SlotKey
	SlotLocation
}

// BindingLayout is a validated, immutable binding layout.
type BindingLayout struct {
	desc        metadata.BindingLayoutDesc
	tableBitMap [metadata.DescriptorHeapTypeCount]uint32
	tableSize   [MaxDescriptorTables]uint32
	slots       map[SlotKey]SlotLocation
}

func NewBindingLayout(desc metadata.BindingLayoutDesc) (*BindingLayout, error) {
	if len(desc.Parameters) > MaxDescriptorTables {
		return nil, fmt.Errorf("%w: %s has %d parameters, max is %d", ErrInvalidLayout, desc.Name, len(desc.Parameters), MaxDescriptorTables)
	}

	l := &BindingLayout{
		desc:  desc,
		slots: make(map[SlotKey]SlotLocation),
	}
	for i, p := range desc.Parameters {
		root := uint32(i)
		if p.Kind != metadata.RootParameterDescriptorTable {
			if len(p.Ranges) != 0 {
				return nil, fmt.Errorf("%w: %s parameter %d has ranges but is not a table", ErrInvalidLayout, desc.Name, i)
			}
			continue
		}
		if len(p.Ranges) == 0 {
			return nil, fmt.Errorf("%w: %s table %d is empty", ErrInvalidLayout, desc.Name, i)
		}

		heapType := p.Ranges[0].Type.HeapType()
		var offset uint32
		for _, r := range p.Ranges {
			if r.Type.HeapType() != heapType {
				return nil, fmt.Errorf("%w: %s table %d mixes sampler and resource descriptors", ErrInvalidLayout, desc.Name, i)
			}
			for s := uint32(0); s < r.Count; s++ {
				key := SlotKey{Type: r.Type, Slot: r.BaseSlot + s}
				if _, dup := l.slots[key]; dup {
					return nil, fmt.Errorf("%w: %s declares slot %d twice", ErrInvalidLayout, desc.Name, key.Slot)
				}
				l.slots[key] = SlotLocation{Table: root, Offset: offset + s}
			}
			offset += r.Count
		}
		if offset > MaxDescriptorsPerTable {
			return nil, fmt.Errorf("%w: %s table %d holds %d descriptors, max is %d", ErrInvalidLayout, desc.Name, i, offset, MaxDescriptorsPerTable)
		}
		l.tableBitMap[heapType] |= 1 << root
		l.tableSize[root] = offset
	}
	return l, nil
}

func (l *BindingLayout) Name() string {
	return l.desc.Name
}

func (l *BindingLayout) Desc() *metadata.BindingLayoutDesc {
	return &l.desc
}

func (l *BindingLayout) NumParameters() uint32 {
	return uint32(len(l.desc.Parameters))
}

// DescriptorTableBitMap has bit i set when root parameter i is a table of heapType.
func (l *BindingLayout) DescriptorTableBitMap(heapType metadata.DescriptorHeapType) uint32 {
	return l.tableBitMap[heapType]
}

// TableSize is the number of descriptors in the table at rootIndex, zero
// for parameters that are not tables.
func (l *BindingLayout) TableSize(rootIndex uint32) uint32 {
	if rootIndex >= MaxDescriptorTables {
		return 0
	}
	return l.tableSize[rootIndex]
}

func (l *BindingLayout) Lookup(descriptorType metadata.DescriptorType, slot uint32) (SlotLocation, bool) {
	loc, ok := l.slots[SlotKey{Type: descriptorType, Slot: slot}]
	return loc, ok
}

// Slots lists every table slot ordered by table then offset.
func (l *BindingLayout) Slots() []SlotBinding {
	out := make([]SlotBinding, 0, len(l.slots))
	for k, v := range l.slots {
		out = append(out, SlotBinding{SlotKey: k, SlotLocation: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Offset < out[j].Offset
	})
	return out
}
