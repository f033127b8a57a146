package wire

import "encoding/binary"

// FundsInfo is the payload of DEPOSIT and WITHDRAW.
type FundsInfo struct {
	Amount uint32
}

func (p FundsInfo) Encode() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, p.Amount)
	return b
}

func DecodeFundsInfo(b []byte) FundsInfo {
	return FundsInfo{Amount: binary.BigEndian.Uint32(b)}
}

// EscrowInfo is the payload of ESCROW and RELEASE.
type EscrowInfo struct {
	Quantity uint32
}

func (p EscrowInfo) Encode() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, p.Quantity)
	return b
}

func DecodeEscrowInfo(b []byte) EscrowInfo {
	return EscrowInfo{Quantity: binary.BigEndian.Uint32(b)}
}

// OrderInfo is the payload of BUY and SELL.
type OrderInfo struct {
	Quantity uint32
	Price    uint32
}

func (p OrderInfo) Encode() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], p.Quantity)
	binary.BigEndian.PutUint32(b[4:8], p.Price)
	return b
}

func DecodeOrderInfo(b []byte) OrderInfo {
	return OrderInfo{
		Quantity: binary.BigEndian.Uint32(b[0:4]),
		Price:    binary.BigEndian.Uint32(b[4:8]),
	}
}

// CancelInfo is the payload of CANCEL.
type CancelInfo struct {
	OrderID uint32
}

func (p CancelInfo) Encode() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, p.OrderID)
	return b
}

func DecodeCancelInfo(b []byte) CancelInfo {
	return CancelInfo{OrderID: binary.BigEndian.Uint32(b)}
}

// StatusInfo is the 28-byte payload carried by ACK: order_id, quantity,
// balance, inventory, last_trade_price, bid, ask. spec.md calls this "a
// 20-byte STATUS payload" while naming all seven of these uint32 fields;
// the original BRS_STATUS_INFO this was distilled from is the 28-byte,
// seven-field struct, which is what is implemented here (see
// SPEC_FULL.md). Fields irrelevant to the request being acknowledged are
// left zero.
type StatusInfo struct {
	OrderID        uint32
	Quantity       uint32
	Balance        uint32
	Inventory      uint32
	LastTradePrice uint32
	Bid            uint32
	Ask            uint32
}

const StatusInfoSize = 28

func (p StatusInfo) Encode() []byte {
	b := make([]byte, StatusInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.OrderID)
	binary.BigEndian.PutUint32(b[4:8], p.Quantity)
	binary.BigEndian.PutUint32(b[8:12], p.Balance)
	binary.BigEndian.PutUint32(b[12:16], p.Inventory)
	binary.BigEndian.PutUint32(b[16:20], p.LastTradePrice)
	binary.BigEndian.PutUint32(b[20:24], p.Bid)
	binary.BigEndian.PutUint32(b[24:28], p.Ask)
	return b
}

func DecodeStatusInfo(b []byte) StatusInfo {
	return StatusInfo{
		OrderID:        binary.BigEndian.Uint32(b[0:4]),
		Quantity:       binary.BigEndian.Uint32(b[4:8]),
		Balance:        binary.BigEndian.Uint32(b[8:12]),
		Inventory:      binary.BigEndian.Uint32(b[12:16]),
		LastTradePrice: binary.BigEndian.Uint32(b[16:20]),
		Bid:            binary.BigEndian.Uint32(b[20:24]),
		Ask:            binary.BigEndian.Uint32(b[24:28]),
	}
}

// NotifyInfo is the 16-byte payload of BOUGHT, SOLD, POSTED, CANCELED and
// TRADED. A zero BuyerOrderID or SellerOrderID means that side is not
// applicable to this notification (e.g. POSTED by a sell order leaves
// BuyerOrderID zero).
type NotifyInfo struct {
	BuyerOrderID  uint32
	SellerOrderID uint32
	Quantity      uint32
	Price         uint32
}

const NotifyInfoSize = 16

func (p NotifyInfo) Encode() []byte {
	b := make([]byte, NotifyInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.BuyerOrderID)
	binary.BigEndian.PutUint32(b[4:8], p.SellerOrderID)
	binary.BigEndian.PutUint32(b[8:12], p.Quantity)
	binary.BigEndian.PutUint32(b[12:16], p.Price)
	return b
}

func DecodeNotifyInfo(b []byte) NotifyInfo {
	return NotifyInfo{
		BuyerOrderID:  binary.BigEndian.Uint32(b[0:4]),
		SellerOrderID: binary.BigEndian.Uint32(b[4:8]),
		Quantity:      binary.BigEndian.Uint32(b[8:12]),
		Price:         binary.BigEndian.Uint32(b[12:16]),
	}
}
