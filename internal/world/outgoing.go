package world

import (
	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/protocol"
)

// Interface ids the client draws containers on.
const (
	InventoryInterface = 3214
	EquipmentInterface = 1688
)

// Client config ids for the options tab.
const (
	ConfigBrightness  = 166
	ConfigMouse       = 170
	ConfigChatEffects = 171
	ConfigSplitScreen = 287
	ConfigAcceptAid   = 427
	ConfigRetaliate   = 172
	ConfigRun         = 173
)

// friendsListLoaded is the friends status that enables the list.
const friendsListLoaded = 2

// Sidebar tab forms, by menu slot.
var defaultSidebars = []struct{ menu, form int }{
	{1, 3917}, {2, 638}, {3, 3213}, {4, 1644}, {5, 5608}, {6, 1151},
	{8, 5065}, {9, 5715}, {10, 2449}, {11, 4445}, {12, 147}, {13, 6299},
	{0, 2423},
}

// largeStack is the amount at which a container slot switches to a
// four-byte amount.
const largeStack = 255

func (p *Player) newFrame(capacity, opcode int) *protocol.OutBuffer {
	buf := protocol.NewOutBuffer(capacity)
	buf.PutHeader(p.session.OutCipher(), opcode)
	return buf
}

func (p *Player) send(buf *protocol.OutBuffer) {
	// Session.Send logs and counts a dropped buffer.
	_ = p.session.Send(buf)
}

func (p *Player) sendMapRegion() {
	p.region = p.position
	buf := p.newFrame(5, protocol.OutMapRegion)
	buf.PutShort(p.region.RegionX()+6, protocol.A)
	buf.PutShort(p.region.RegionY() + 6)
	p.send(buf)
}

func (p *Player) sendInitialize() {
	buf := p.newFrame(4, protocol.OutInitialize)
	buf.PutByte(1, protocol.A)
	buf.PutShort(p.index, protocol.A, protocol.Little)
	p.send(buf)
}

func (p *Player) sendSidebar(menu, form int) {
	buf := p.newFrame(4, protocol.OutSidebar)
	buf.PutShort(form)
	buf.PutByte(menu, protocol.A)
	p.send(buf)
}

func (p *Player) sendSkill(skill int) {
	s := p.details.Skills[skill]
	buf := p.newFrame(7, protocol.OutSkill)
	buf.PutByte(skill)
	buf.PutInt(s.XP, protocol.Middle)
	buf.PutByte(s.Level)
	p.send(buf)
}

func (p *Player) sendEquipmentSlot(slot int) {
	item := p.details.Equipment[slot]
	buf := protocol.NewOutBuffer(16)
	buf.PutVarShortHeader(p.session.OutCipher(), protocol.OutEquipment)
	buf.PutShort(EquipmentInterface)
	buf.PutByte(slot)
	if item.Empty() {
		buf.PutShort(0)
		buf.PutByte(0)
	} else {
		buf.PutShort(item.ID + 1)
		if item.Amount >= largeStack {
			buf.PutByte(largeStack)
			buf.PutInt(item.Amount)
		} else {
			buf.PutByte(item.Amount)
		}
	}
	buf.FinishVarShortHeader()
	p.send(buf)
}

func (p *Player) sendInventory() {
	buf := protocol.NewOutBuffer(8 + db.InventorySize*7)
	buf.PutVarShortHeader(p.session.OutCipher(), protocol.OutInventory)
	buf.PutShort(InventoryInterface)
	buf.PutShort(db.InventorySize)
	for _, item := range p.details.Inventory {
		if item.Empty() {
			buf.PutByte(0)
			buf.PutShort(0, protocol.A, protocol.Little)
			continue
		}
		if item.Amount >= largeStack {
			buf.PutByte(largeStack)
			buf.PutInt(item.Amount, protocol.InverseMiddle)
		} else {
			buf.PutByte(item.Amount)
		}
		buf.PutShort(item.ID+1, protocol.A, protocol.Little)
	}
	buf.FinishVarShortHeader()
	p.send(buf)
}

// SendMessage writes a line to the chat box.
func (p *Player) SendMessage(text string) {
	buf := protocol.NewOutBuffer(len(text) + 3)
	buf.PutVarHeader(p.session.OutCipher(), protocol.OutMessage)
	buf.PutString(text)
	buf.FinishVarHeader()
	p.send(buf)
}

func (p *Player) sendChatOptions() {
	chat := p.details.Chat
	buf := p.newFrame(4, protocol.OutChatOptions)
	buf.PutByte(chat.Public)
	buf.PutByte(chat.Private)
	buf.PutByte(chat.Trade)
	p.send(buf)
}

func (p *Player) sendFriendsStatus(status int) {
	buf := p.newFrame(2, protocol.OutFriendsStatus)
	buf.PutByte(status)
	p.send(buf)
}

// sendFriend updates one friends list entry. world 0 shows the friend
// offline.
func (p *Player) sendFriend(hash int64, world int) {
	buf := p.newFrame(10, protocol.OutFriendUpdate)
	buf.PutLong(hash)
	buf.PutByte(world)
	p.send(buf)
}

func (p *Player) sendIgnoreList() {
	ignores := p.details.Ignores
	buf := protocol.NewOutBuffer(3 + len(ignores)*8)
	buf.PutVarShortHeader(p.session.OutCipher(), protocol.OutIgnoreList)
	for _, hash := range ignores {
		buf.PutLong(hash)
	}
	buf.FinishVarShortHeader()
	p.send(buf)
}

func (p *Player) sendPrivateMessage(from int64, id int32, rights int, packed []byte) {
	buf := protocol.NewOutBuffer(15 + len(packed))
	buf.PutVarHeader(p.session.OutCipher(), protocol.OutPrivateMsg)
	buf.PutLong(from)
	buf.PutInt(int(id))
	buf.PutByte(rights)
	buf.PutBytes(packed)
	buf.FinishVarHeader()
	p.send(buf)
}

func (p *Player) sendConfig(id, value int) {
	buf := p.newFrame(4, protocol.OutConfig)
	buf.PutShort(id, protocol.Little)
	buf.PutByte(value)
	p.send(buf)
}

// sendSettings pushes every options tab toggle.
func (p *Player) sendSettings() {
	s := p.details.Settings
	p.sendConfig(ConfigBrightness, s.Brightness+1)
	p.sendConfig(ConfigMouse, s.MouseButtons)
	p.sendConfig(ConfigChatEffects, s.ChatEffects)
	p.sendConfig(ConfigSplitScreen, s.SplitScreen)
	p.sendConfig(ConfigAcceptAid, s.AcceptAid)
	p.sendConfig(ConfigRetaliate, s.Retaliate)
	p.sendConfig(ConfigRun, boolConfig(s.Run))
}

// SendLogout tells the client to return to the title screen.
func (p *Player) SendLogout() {
	p.send(p.newFrame(1, protocol.OutLogout))
}

func boolConfig(v bool) int {
	if v {
		return 1
	}
	return 0
}
