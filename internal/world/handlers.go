package world

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/protocol"
	"github.com/ember-project/ember/internal/util"
)

// ErrUnhandledOpcode is returned by Dispatch for an opcode with no handler.
var ErrUnhandledOpcode = errors.New("world: unhandled opcode")

// Handler processes one decoded packet for a player on the tick goroutine.
type Handler func(w *World, p *Player, pkt *protocol.Packet) error

// HandlerTable maps every opcode to its handler. Nil entries are unhandled.
type HandlerTable [256]Handler

// Opcodes the client sends as keep-alives, focus changes, camera moves and
// similar noise. They are accepted and ignored.
var ignoredOpcodes = []int{
	0, 3, 202, 77, 86, 78, 36, 226, 246, 148, 183, 230, 136, 189, 152, 200,
	85, 165, 238, 150, 121, 210, 241,
}

// NewHandlerTable builds the dispatch table.
func NewHandlerTable() *HandlerTable {
	t := &HandlerTable{}
	for _, op := range ignoredOpcodes {
		t[op] = ignore
	}
	t[protocol.InUnequip] = handleUnequip
	t[protocol.InEquip] = handleEquip
	t[protocol.InButton] = handleButton
	t[protocol.InChat] = handleChat
	t[protocol.InCommand] = handleCommand
	t[protocol.InWalkOnCommand] = handleWalk
	t[protocol.InWalkMap] = handleWalk
	t[protocol.InWalkMinimap] = handleWalk
	t[protocol.InChatOptions] = handleChatOptions
	t[protocol.InFriendAdd] = handleFriendAdd
	t[protocol.InFriendRemove] = handleFriendRemove
	t[protocol.InPrivateMsg] = handlePrivateMessage
	t[protocol.InIgnoreAdd] = handleIgnoreAdd
	t[protocol.InIgnoreRemove] = handleIgnoreRemove
	return t
}

// Dispatch runs the handler registered for pkt.
func (w *World) Dispatch(p *Player, pkt *protocol.Packet) error {
	if pkt.Opcode < 0 || pkt.Opcode >= len(w.handlers) {
		return fmt.Errorf("opcode %d: %w", pkt.Opcode, ErrUnhandledOpcode)
	}
	h := w.handlers[pkt.Opcode]
	if h == nil {
		return fmt.Errorf("opcode %d: %w", pkt.Opcode, ErrUnhandledOpcode)
	}
	return h(w, p, pkt)
}

func ignore(*World, *Player, *protocol.Packet) error { return nil }

func handleUnequip(_ *World, p *Player, pkt *protocol.Packet) error {
	in := pkt.Reader()
	iface := in.UShort(protocol.A)
	slot := in.UShort(protocol.A)
	itemID := in.UShort(protocol.A)
	if err := in.Err(); err != nil {
		return fmt.Errorf("decode unequip: %w", err)
	}
	if iface != EquipmentInterface || slot >= db.EquipmentSize {
		return nil
	}
	item := p.details.Equipment[slot]
	if item.Empty() || item.ID != itemID {
		return nil
	}
	if left := addItem(&p.details.Inventory, item.ID, item.Amount); left == item.Amount {
		p.SendMessage("Not enough space in your inventory.")
		return nil
	} else if left > 0 {
		p.details.Equipment[slot].Amount = left
	} else {
		p.details.Equipment[slot] = db.Item{ID: -1}
	}
	p.sendEquipmentSlot(slot)
	p.sendInventory()
	return nil
}

func handleEquip(_ *World, p *Player, pkt *protocol.Packet) error {
	in := pkt.Reader()
	itemID := in.UShort()
	slot := in.UShort(protocol.A)
	_ = in.UShort() // interface
	if err := in.Err(); err != nil {
		return fmt.Errorf("decode equip: %w", err)
	}
	if slot >= db.InventorySize {
		return nil
	}
	item := p.details.Inventory[slot]
	if item.Empty() || item.ID != itemID {
		return nil
	}
	target, ok := equipSlot(item.ID)
	if !ok {
		p.SendMessage("You can't wear that.")
		return nil
	}

	worn := p.details.Equipment[target]
	switch {
	case !worn.Empty() && worn.ID == item.ID && stackable(item.ID):
		p.details.Equipment[target].Amount = min(worn.Amount+item.Amount, maxStack)
		p.details.Inventory[slot] = db.Item{ID: -1}
	case worn.Empty():
		p.details.Equipment[target] = item
		p.details.Inventory[slot] = db.Item{ID: -1}
	default:
		p.details.Equipment[target] = item
		p.details.Inventory[slot] = worn
	}
	p.sendEquipmentSlot(target)
	p.sendInventory()
	return nil
}

func handleButton(w *World, p *Player, pkt *protocol.Packet) error {
	in := pkt.Reader()
	button := in.UShort()
	if err := in.Err(); err != nil {
		return fmt.Errorf("decode button: %w", err)
	}
	action, ok := buttonActions[button]
	if !ok {
		p.logger.Debug().Int("button", button).Msg("unhandled button")
		return nil
	}
	action(w, p)
	return nil
}

func handleChat(_ *World, p *Player, pkt *protocol.Packet) error {
	in := pkt.Reader()
	effects := in.UByte(protocol.S)
	colour := in.UByte(protocol.S)
	packed := in.BytesReverse(pkt.Length-2, protocol.A)
	if err := in.Err(); err != nil {
		return fmt.Errorf("decode chat: %w", err)
	}
	text := protocol.SentenceCase(strings.TrimSpace(protocol.UnpackChat(packed)))
	p.lastChat = ChatMessage{
		Effects: effects,
		Colour:  colour,
		Packed:  packed,
		Text:    text,
		At:      time.Now(),
	}
	p.logger.Info().Str("text", text).Int("effects", effects).Int("colour", colour).Msg("public chat")
	return nil
}

func handleCommand(w *World, p *Player, pkt *protocol.Packet) error {
	in := pkt.Reader()
	line := in.ReadString()
	if err := in.Err(); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	w.runCommand(p, line)
	return nil
}

func handleWalk(_ *World, p *Player, pkt *protocol.Packet) error {
	req, err := DecodeWalk(pkt)
	if err != nil {
		return err
	}
	for _, wp := range req.Path {
		if !wp.Valid() {
			p.logger.Debug().Str("waypoint", wp.String()).Msg("walk leaves the map, dropped")
			return nil
		}
	}
	p.queueWalk(req)
	return nil
}

func handleChatOptions(w *World, p *Player, pkt *protocol.Packet) error {
	in := pkt.Reader()
	public := in.UByte()
	private := in.UByte()
	trade := in.UByte()
	if err := in.Err(); err != nil {
		return fmt.Errorf("decode chat options: %w", err)
	}
	chat := &p.details.Chat
	if validChatMode(public) {
		chat.Public = public
	}
	if validChatMode(trade) {
		chat.Trade = trade
	}
	if validChatMode(private) && private != chat.Private {
		chat.Private = private
		w.updateFriendsOf(p)
	}
	return nil
}

func validChatMode(v int) bool {
	return v >= db.ChatOn && v <= db.ChatHide
}

func readNameHash(pkt *protocol.Packet) (int64, error) {
	in := pkt.Reader()
	hash := in.Long()
	if err := in.Err(); err != nil {
		return 0, fmt.Errorf("decode name: %w", err)
	}
	return hash, nil
}

func handleFriendAdd(w *World, p *Player, pkt *protocol.Packet) error {
	hash, err := readNameHash(pkt)
	if err != nil {
		return err
	}
	if hash == p.nameHash || p.HasFriend(hash) {
		return nil
	}
	if len(p.details.Friends) >= db.MaxFriends {
		p.SendMessage("Your friends list is full.")
		return nil
	}
	p.details.Friends = append(p.details.Friends, hash)

	friend := w.registry.ByName(hash)
	p.sendFriend(hash, w.friendWorld(friend, p))
	if friend != nil && friend.HasFriend(p.nameHash) && p.details.Chat.Private == db.ChatFriends {
		friend.sendFriend(p.nameHash, w.friendWorld(p, friend))
	}
	return nil
}

func handleFriendRemove(w *World, p *Player, pkt *protocol.Packet) error {
	hash, err := readNameHash(pkt)
	if err != nil {
		return err
	}
	i := slices.Index(p.details.Friends, hash)
	if i < 0 {
		return nil
	}
	p.details.Friends = slices.Delete(p.details.Friends, i, i+1)

	if p.details.Chat.Private == db.ChatFriends {
		if friend := w.registry.ByName(hash); friend != nil && friend.HasFriend(p.nameHash) {
			friend.sendFriend(p.nameHash, 0)
		}
	}
	return nil
}

func handleIgnoreAdd(_ *World, p *Player, pkt *protocol.Packet) error {
	hash, err := readNameHash(pkt)
	if err != nil {
		return err
	}
	if p.Ignores(hash) {
		return nil
	}
	if len(p.details.Ignores) >= db.MaxIgnores {
		p.SendMessage("Your ignore list is full.")
		return nil
	}
	p.details.Ignores = append(p.details.Ignores, hash)
	return nil
}

func handleIgnoreRemove(_ *World, p *Player, pkt *protocol.Packet) error {
	hash, err := readNameHash(pkt)
	if err != nil {
		return err
	}
	if i := slices.Index(p.details.Ignores, hash); i >= 0 {
		p.details.Ignores = slices.Delete(p.details.Ignores, i, i+1)
	}
	return nil
}

func handlePrivateMessage(w *World, p *Player, pkt *protocol.Packet) error {
	in := pkt.Reader()
	to := in.Long()
	packed := in.Bytes(pkt.Length - 8)
	if err := in.Err(); err != nil {
		return fmt.Errorf("decode private message: %w", err)
	}
	target := w.registry.ByName(to)
	if target == nil || !target.AcceptsMessageFrom(p) {
		p.SendMessage("That is currently offline.")
		return nil
	}
	target.sendPrivateMessage(p.nameHash, rand.Int32(), p.details.Rights, packed)
	p.logger.Info().
		Str("to", util.LongToName(to)).
		Str("text", strings.TrimSpace(protocol.UnpackChat(packed))).
		Msg("private message")
	return nil
}
