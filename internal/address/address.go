// Package address splits a frame identifier into the fields of the
// pack addressing scheme and lists the identifiers to try against the
// signal database, most specific first.
//
//	bit 11..7  command group (selects the shared message layout)
//	bit  6..3  xrcc          (controller within the group)
//	bit  2..0  battery       (unit behind the controller)
package address

const (
	GroupMask   uint32 = 0xF80
	XRCCMask    uint32 = 0xF
	XRCCShift          = 3
	BatteryMask uint32 = 0x007
)

// Fields are the sub-fields of one identifier.
type Fields struct {
	Group   uint32
	XRCC    uint8
	Battery uint8
}

// Decompose computes the address fields of id.
func Decompose(id uint32) Fields {
	return Fields{
		Group:   id & GroupMask,
		XRCC:    uint8((id >> XRCCShift) & XRCCMask),
		Battery: uint8(id & BatteryMask),
	}
}

// Resolve returns the address fields of id and the lookup candidates:
// the exact identifier, then the group-masked identifier shared by every
// unit in the command group.
func Resolve(id uint32) (Fields, []uint32) {
	f := Decompose(id)
	return f, []uint32{id, f.Group}
}
