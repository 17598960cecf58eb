package queue

// FullDuplex pairs one Ring per direction, grounded on BBFullDuplex in
// crates/spi/src/lib.rs: the SPI link engine owns one FullDuplex per
// peer, draining Outbound and producing into Inbound independently,
// while the layer above it produces into Outbound and drains Inbound.
type FullDuplex struct {
	Outbound *Ring
	Inbound  *Ring
}

// NewFullDuplex constructs a FullDuplex with independently sized
// outbound/inbound rings.
func NewFullDuplex(outboundSlots, inboundSlots, slotSize int) *FullDuplex {
	return &FullDuplex{
		Outbound: NewRing(outboundSlots, slotSize),
		Inbound:  NewRing(inboundSlots, slotSize),
	}
}
