package bitfield

// PageFlags is a debug-visible snapshot of a virtual-memory page's
// variant and residency state, packed into a 32-bit word for compact
// trace logging (see internal/vm.Page.flagsSnapshot).
type PageFlags struct {
	// Writable mirrors the page's writable flag.
	Writable bool `bitfield:",1"`

	// Resident is true when the page currently occupies a frame.
	Resident bool `bitfield:",1"`

	// Kind is the tagged variant: 0=uninit, 1=anon, 2=file.
	Kind uint32 `bitfield:",2"`

	// Reserved bits for future use.
	Reserved uint32 `bitfield:",28"`
}

var pageFlagsConfig = &Config{NumBits: 32}

// PackPageFlags packs a PageFlags value into a 32-bit word.
func PackPageFlags(f PageFlags) (uint32, error) {
	packed, err := Pack(f, pageFlagsConfig)
	if err != nil {
		return 0, err
	}
	return uint32(packed), nil
}

// UnpackPageFlags unpacks a 32-bit word into a PageFlags value.
func UnpackPageFlags(packed uint32) PageFlags {
	var f PageFlags
	_ = Unpack(uint64(packed), &f, pageFlagsConfig)
	return f
}
