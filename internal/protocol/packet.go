// Package protocol defines the line-delimited control-protocol envelopes
// exchanged between clients and the session gateway. One envelope is one
// JSON object per line carrying an integer type tag and a typed payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type identifies the payload carried by an envelope.
type Type int

// Control-protocol message types. The numeric values are part of the wire
// format and must not be reordered.
const (
	TypeLogin Type = iota + 1
	TypeLoginOK
	TypeLoginFail
	TypeRegister
	TypeRegisterOK
	TypeRegisterFail
	TypeCreateRoom
	TypeRoomCreated
	TypeJoinRoom
	TypeRoomJoined
	TypeLeaveRoom
	TypePlayerReady
	TypeSelectMap
	TypeMapSelected
	TypeStartGame
	TypeRoomList
	TypeRoomListData
	TypeShopList
	TypeShopListData
	TypeBuyItem
	TypeBuySuccess
	TypeBuyFail
	TypeTankShopList
	TypeTankShopListData
	TypeBuyTank
	TypeEquipTank
	TypeEquipTankSuccess
	TypeEquipTankFail
	TypeInventoryRequest
	TypeInventoryData
	TypeRoomUpdate
	TypeRoomFail
)

// Message is implemented by every envelope payload.
type Message interface {
	MessageType() Type
}

// Login asks the gateway to authenticate a username/password pair.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginOK confirms a successful login.
type LoginOK struct {
	Msg string `json:"msg"`
}

// LoginFail reports a rejected login or a request-level error.
type LoginFail struct {
	Msg string `json:"msg"`
}

// Register asks the gateway to create an account.
type Register struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterOK confirms account creation.
type RegisterOK struct {
	Msg string `json:"msg"`
}

// RegisterFail reports a rejected registration.
type RegisterFail struct {
	Msg string `json:"msg"`
}

// CreateRoom asks the lobby directory to create a room with the caller as host.
type CreateRoom struct {
	RoomName   string `json:"roomName"`
	MaxPlayers int    `json:"maxPlayers"`
	Password   string `json:"password"`
}

// RoomCreated confirms room creation to the host.
type RoomCreated struct {
	RoomID     int      `json:"roomId"`
	RoomName   string   `json:"roomName"`
	MaxPlayers int      `json:"maxPlayers"`
	Players    []string `json:"players"`
}

// JoinRoom asks to join an existing room.
type JoinRoom struct {
	RoomID   int    `json:"roomId"`
	Password string `json:"password"`
}

// RoomJoined confirms a join to the joining client.
type RoomJoined struct {
	RoomID   int      `json:"roomId"`
	RoomName string   `json:"roomName"`
	Players  []string `json:"players"`
}

// LeaveRoom asks to leave the caller's current room.
type LeaveRoom struct{}

// PlayerReady toggles the caller's ready flag inside a room.
type PlayerReady struct {
	Ready bool `json:"ready"`
}

// SelectMap sets the room's map. Host only.
type SelectMap struct {
	MapID int `json:"mapId"`
}

// MapSelected announces the room's selected map to every member.
type MapSelected struct {
	MapID int `json:"mapId"`
}

// StartGame is both the host's request to start the match and the
// server push telling each member where the relay lives.
type StartGame struct {
	Msg       string       `json:"msg,omitempty"`
	RelayAddr string       `json:"relayAddr,omitempty"`
	HostName  string       `json:"isHost,omitempty"`
	MapID     int          `json:"mapId,omitempty"`
	Slot      int          `json:"slot,omitempty"`
	Players   []PlayerSlot `json:"players,omitempty"`
}

// PlayerSlot describes one member's assignment in a starting match.
type PlayerSlot struct {
	Name   string `json:"name"`
	Slot   int    `json:"slot"`
	TankID int    `json:"tankId"`
	GunID  int    `json:"gunId"`
}

// RoomList asks for the current room listing.
type RoomList struct{}

// RoomInfo is one row of a room listing.
type RoomInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Players     int    `json:"players"`
	MaxPlayers  int    `json:"maxPlayers"`
	HasPassword bool   `json:"hasPassword"`
	Status      string `json:"status"`
}

// RoomListData carries the room listing.
type RoomListData struct {
	Rooms []RoomInfo `json:"rooms"`
}

// ShopList asks for the item catalog.
type ShopList struct{}

// ShopItem is one purchasable catalog entry.
type ShopItem struct {
	ID          int                `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Price       int                `json:"price"`
	Discount    float64            `json:"discount"`
	Stock       int                `json:"stock"`
	Attributes  map[string]float64 `json:"attributes,omitempty"`
}

// ShopListData carries the item catalog plus the caller's gold balance.
type ShopListData struct {
	Items []ShopItem `json:"items"`
	Gold  int        `json:"gold"`
}

// BuyItem asks to purchase a quantity of one item.
type BuyItem struct {
	ItemID   int `json:"itemId"`
	Quantity int `json:"quantity"`
}

// BuySuccess reports a completed purchase and the remaining balance.
type BuySuccess struct {
	Gold int    `json:"gold"`
	Msg  string `json:"msg"`
}

// BuyFail reports a rejected purchase with a status message.
type BuyFail struct {
	Msg string `json:"msg"`
}

// TankShopList asks for the tank catalog.
type TankShopList struct{}

// TankShopListData carries the tank catalog.
type TankShopListData struct {
	Tanks []ShopItem `json:"tanks"`
	Gold  int        `json:"gold"`
}

// BuyTank asks to purchase a tank.
type BuyTank struct {
	TankID int `json:"tankId"`
}

// EquipTank asks to equip an owned tank.
type EquipTank struct {
	TankID int `json:"tankId"`
}

// EquipTankSuccess confirms the equip.
type EquipTankSuccess struct {
	TankID int `json:"tankId"`
}

// EquipTankFail reports a rejected equip.
type EquipTankFail struct {
	Msg string `json:"msg"`
}

// InventoryRequest asks for the caller's item inventory.
type InventoryRequest struct{}

// InventoryItem is one owned item with its quantity.
type InventoryItem struct {
	ItemID   int    `json:"itemId"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// InventoryData carries the caller's inventory.
type InventoryData struct {
	Items []InventoryItem `json:"items"`
}

// RoomUpdate is pushed to room members when membership changes.
type RoomUpdate struct {
	Msg     string   `json:"msg"`
	Players []string `json:"players"`
}

// RoomFail reports a rejected room operation (join, create, or a
// host-only action by a non-host).
type RoomFail struct {
	Msg string `json:"msg"`
}

func (Login) MessageType() Type            { return TypeLogin }
func (LoginOK) MessageType() Type          { return TypeLoginOK }
func (LoginFail) MessageType() Type        { return TypeLoginFail }
func (Register) MessageType() Type         { return TypeRegister }
func (RegisterOK) MessageType() Type       { return TypeRegisterOK }
func (RegisterFail) MessageType() Type     { return TypeRegisterFail }
func (CreateRoom) MessageType() Type       { return TypeCreateRoom }
func (RoomCreated) MessageType() Type      { return TypeRoomCreated }
func (JoinRoom) MessageType() Type         { return TypeJoinRoom }
func (RoomJoined) MessageType() Type       { return TypeRoomJoined }
func (LeaveRoom) MessageType() Type        { return TypeLeaveRoom }
func (PlayerReady) MessageType() Type      { return TypePlayerReady }
func (SelectMap) MessageType() Type        { return TypeSelectMap }
func (MapSelected) MessageType() Type      { return TypeMapSelected }
func (StartGame) MessageType() Type        { return TypeStartGame }
func (RoomList) MessageType() Type         { return TypeRoomList }
func (RoomListData) MessageType() Type     { return TypeRoomListData }
func (ShopList) MessageType() Type         { return TypeShopList }
func (ShopListData) MessageType() Type     { return TypeShopListData }
func (BuyItem) MessageType() Type          { return TypeBuyItem }
func (BuySuccess) MessageType() Type       { return TypeBuySuccess }
func (BuyFail) MessageType() Type          { return TypeBuyFail }
func (TankShopList) MessageType() Type     { return TypeTankShopList }
func (TankShopListData) MessageType() Type { return TypeTankShopListData }
func (BuyTank) MessageType() Type          { return TypeBuyTank }
func (EquipTank) MessageType() Type        { return TypeEquipTank }
func (EquipTankSuccess) MessageType() Type { return TypeEquipTankSuccess }
func (EquipTankFail) MessageType() Type    { return TypeEquipTankFail }
func (InventoryRequest) MessageType() Type { return TypeInventoryRequest }
func (InventoryData) MessageType() Type    { return TypeInventoryData }
func (RoomUpdate) MessageType() Type       { return TypeRoomUpdate }
func (RoomFail) MessageType() Type         { return TypeRoomFail }

// envelope is the raw wire form of every message.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serialises a message into a single line, without a trailing newline.
//
// Postcondition: The returned bytes contain no embedded newline and decode
// back into a message equal in every field the sender set.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling %T payload: %w", msg, err)
	}
	return json.Marshal(envelope{Type: msg.MessageType(), Data: data})
}

// Decode parses one line into its typed message. Unknown fields inside the
// payload are ignored so older servers tolerate newer clients.
//
// Postcondition: Returns a concrete Message whose MessageType matches the
// envelope's type tag, or an error for malformed or unknown envelopes.
func Decode(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("unmarshalling envelope: %w", err)
	}

	msg := newMessage(env.Type)
	if msg == nil {
		return nil, fmt.Errorf("unknown message type %d", env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, fmt.Errorf("unmarshalling type %d payload: %w", env.Type, err)
		}
	}
	return msg.(Message), nil
}

// newMessage returns a pointer to the zero payload for the given type tag,
// or nil when the tag is not recognised.
func newMessage(t Type) any {
	switch t {
	case TypeLogin:
		return &Login{}
	case TypeLoginOK:
		return &LoginOK{}
	case TypeLoginFail:
		return &LoginFail{}
	case TypeRegister:
		return &Register{}
	case TypeRegisterOK:
		return &RegisterOK{}
	case TypeRegisterFail:
		return &RegisterFail{}
	case TypeCreateRoom:
		return &CreateRoom{}
	case TypeRoomCreated:
		return &RoomCreated{}
	case TypeJoinRoom:
		return &JoinRoom{}
	case TypeRoomJoined:
		return &RoomJoined{}
	case TypeLeaveRoom:
		return &LeaveRoom{}
	case TypePlayerReady:
		return &PlayerReady{}
	case TypeSelectMap:
		return &SelectMap{}
	case TypeMapSelected:
		return &MapSelected{}
	case TypeStartGame:
		return &StartGame{}
	case TypeRoomList:
		return &RoomList{}
	case TypeRoomListData:
		return &RoomListData{}
	case TypeShopList:
		return &ShopList{}
	case TypeShopListData:
		return &ShopListData{}
	case TypeBuyItem:
		return &BuyItem{}
	case TypeBuySuccess:
		return &BuySuccess{}
	case TypeBuyFail:
		return &BuyFail{}
	case TypeTankShopList:
		return &TankShopList{}
	case TypeTankShopListData:
		return &TankShopListData{}
	case TypeBuyTank:
		return &BuyTank{}
	case TypeEquipTank:
		return &EquipTank{}
	case TypeEquipTankSuccess:
		return &EquipTankSuccess{}
	case TypeEquipTankFail:
		return &EquipTankFail{}
	case TypeInventoryRequest:
		return &InventoryRequest{}
	case TypeInventoryData:
		return &InventoryData{}
	case TypeRoomUpdate:
		return &RoomUpdate{}
	case TypeRoomFail:
		return &RoomFail{}
	}
	return nil
}
