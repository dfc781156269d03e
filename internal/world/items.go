package world

import "github.com/ember-project/ember/internal/db"

// Equipment slots.
const (
	SlotHead   = 0
	SlotCape   = 1
	SlotAmulet = 2
	SlotWeapon = 3
	SlotBody   = 4
	SlotShield = 5
	SlotLegs   = 7
	SlotHands  = 9
	SlotFeet   = 10
	SlotRing   = 12
	SlotArrows = 13
)

// Item ids referenced by name.
const (
	ItemCoins = 995
)

// maxStack is the largest amount a single slot can hold.
const maxStack = 1<<31 - 1

type itemDefinition struct {
	slot      int
	stackable bool
}

// itemDefinitions covers the wearable starter gear plus the stackables the
// admin commands hand out. Anything missing cannot be worn.
var itemDefinitions = map[int]itemDefinition{
	// weapons
	1205: {slot: SlotWeapon}, // bronze dagger
	1277: {slot: SlotWeapon}, // bronze sword
	1291: {slot: SlotWeapon}, // bronze longsword
	1321: {slot: SlotWeapon}, // bronze scimitar
	1323: {slot: SlotWeapon}, // iron scimitar
	1351: {slot: SlotWeapon}, // bronze axe
	1265: {slot: SlotWeapon}, // bronze pickaxe
	841:  {slot: SlotWeapon}, // shortbow
	4151: {slot: SlotWeapon}, // abyssal whip

	// armour
	1155: {slot: SlotHead},   // bronze full helm
	1153: {slot: SlotHead},   // iron full helm
	1117: {slot: SlotBody},   // bronze platebody
	1115: {slot: SlotBody},   // iron platebody
	1129: {slot: SlotBody},   // leather body
	1075: {slot: SlotLegs},   // bronze platelegs
	1067: {slot: SlotLegs},   // iron platelegs
	1095: {slot: SlotLegs},   // leather chaps
	1173: {slot: SlotShield}, // bronze sq shield
	1189: {slot: SlotShield}, // bronze kiteshield
	1191: {slot: SlotShield}, // iron kiteshield
	1007: {slot: SlotCape},   // red cape
	1478: {slot: SlotAmulet}, // amulet of accuracy
	1725: {slot: SlotAmulet}, // amulet of strength
	1059: {slot: SlotHands},  // leather gloves
	1061: {slot: SlotFeet},   // leather boots
	2550: {slot: SlotRing},   // ring of recoil

	// ammunition
	882: {slot: SlotArrows, stackable: true}, // bronze arrow
	884: {slot: SlotArrows, stackable: true}, // iron arrow

	ItemCoins: {slot: -1, stackable: true},
}

// equipSlot returns where an item is worn.
func equipSlot(id int) (int, bool) {
	def, ok := itemDefinitions[id]
	if !ok || def.slot < 0 {
		return 0, false
	}
	return def.slot, true
}

func stackable(id int) bool {
	return itemDefinitions[id].stackable
}

// addItem puts amount of id into the inventory, stacking where the item
// stacks. It returns how many could not fit.
func addItem(inv *[db.InventorySize]db.Item, id, amount int) int {
	if amount <= 0 {
		return 0
	}
	if stackable(id) {
		for i := range inv {
			if inv[i].ID == id && !inv[i].Empty() {
				room := maxStack - inv[i].Amount
				add := min(room, amount)
				inv[i].Amount += add
				return amount - add
			}
		}
		if slot := freeSlot(inv); slot >= 0 {
			inv[slot] = db.Item{ID: id, Amount: amount}
			return 0
		}
		return amount
	}
	for amount > 0 {
		slot := freeSlot(inv)
		if slot < 0 {
			break
		}
		inv[slot] = db.Item{ID: id, Amount: 1}
		amount--
	}
	return amount
}

func freeSlot(inv *[db.InventorySize]db.Item) int {
	for i := range inv {
		if inv[i].Empty() {
			return i
		}
	}
	return -1
}
