package protocol

// Client to server opcodes.
const (
	InChat          = 4
	InEquip         = 41
	InIgnoreRemove  = 74
	InChatOptions   = 95
	InWalkMinimap   = 98
	InCommand       = 103
	InPrivateMsg    = 126
	InIgnoreAdd     = 133
	InUnequip       = 145
	InWalkMap       = 164
	InButton        = 185
	InFriendAdd     = 188
	InFriendRemove  = 215
	InWalkOnCommand = 248
)

// Server to client opcodes.
const (
	OutConfig        = 36
	OutFriendUpdate  = 50
	OutInventory     = 53
	OutSidebar       = 71
	OutMapRegion     = 73
	OutLogout        = 109
	OutSkill         = 134
	OutPrivateMsg    = 196
	OutChatOptions   = 206
	OutIgnoreList    = 214
	OutFriendsStatus = 221
	OutInitialize    = 249
	OutMessage       = 253
	OutEquipment     = 34
)

// Length markers in a size table.
const (
	VarByte  = -1 // one plain length byte follows the opcode
	VarShort = -2 // two plain big-endian length bytes follow the opcode
)

// SizeTable maps an opcode to its fixed payload length or a Var marker.
type SizeTable [256]int

// ClientPacketSizes is the payload length of every packet the client sends.
var ClientPacketSizes = SizeTable{
	0, 0, 0, 1, -1, 0, 0, 0, 0, 0, // 0
	0, 0, 0, 0, 8, 0, 6, 2, 2, 0, // 10
	0, 2, 0, 6, 0, 12, 0, 0, 0, 0, // 20
	0, 0, 0, 0, 0, 8, 4, 0, 0, 2, // 30
	2, 6, 0, 6, 0, -1, 0, 0, 0, 0, // 40
	0, 0, 0, 12, 0, 0, 0, 8, 8, 12, // 50
	8, 8, 0, 0, 0, 0, 0, 0, 0, 0, // 60
	6, 0, 2, 2, 8, 6, 0, -1, 0, 6, // 70
	0, 0, 0, 0, 0, 1, 4, 6, 0, 0, // 80
	0, 0, 0, 0, 0, 3, 0, 0, -1, 0, // 90
	0, 13, 0, -1, 0, 0, 0, 0, 0, 0, // 100
	0, 0, 0, 0, 0, 0, 0, 6, 0, 0, // 110
	1, 0, 6, 0, 0, 0, -1, 0, 2, 6, // 120
	0, 4, 6, 8, 0, 6, 0, 0, 0, 2, // 130
	0, 0, 0, 0, 0, 6, 0, 0, 0, 0, // 140
	0, 0, 1, 2, 0, 2, 6, 0, 0, 0, // 150
	0, 0, 0, 0, -1, -1, 0, 0, 0, 0, // 160
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // 170
	0, 8, 0, 3, 0, 2, 0, 0, 8, 1, // 180
	0, 0, 12, 0, 0, 0, 0, 0, 0, 0, // 190
	2, 0, 0, 0, 0, 0, 0, 0, 4, 0, // 200
	4, 0, 0, 0, 7, 8, 0, 0, 10, 0, // 210
	0, 0, 0, 0, 0, 0, -1, 0, 6, 0, // 220
	1, 0, 0, 0, 6, 0, 6, 8, 1, 0, // 230
	0, 4, 0, 0, 0, 0, -1, 0, -1, 4, // 240
	0, 0, 6, 6, 0, 0, // 250
}

// Packet is one decoded client frame.
type Packet struct {
	Opcode  int
	Length  int
	Payload []byte
}

// Reader returns an InBuffer over the payload.
func (p *Packet) Reader() *InBuffer {
	return NewInBuffer(p.Payload)
}
