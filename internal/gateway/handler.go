package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/tank2d/masterserver/internal/events"
	"github.com/tank2d/masterserver/internal/lobby"
	"github.com/tank2d/masterserver/internal/protocol"
	"github.com/tank2d/masterserver/internal/storage/postgres"
)

// maxLineBytes bounds a single control-protocol line. Anything larger is a
// broken or hostile client.
const maxLineBytes = 64 * 1024

// AccountStore defines the account operations required by the Handler.
type AccountStore interface {
	Create(ctx context.Context, username, password string) (postgres.Account, error)
	Authenticate(ctx context.Context, username, password string) (postgres.Account, error)
	Gold(ctx context.Context, accountID int64) (int, error)
}

// ShopStore defines the item-catalog operations required by the Handler.
type ShopStore interface {
	ListAvailable(ctx context.Context) ([]postgres.CatalogItem, error)
	Purchase(ctx context.Context, accountID int64, itemID, quantity int) (postgres.BuyResult, error)
}

// TankStore defines the tank-catalog operations required by the Handler.
type TankStore interface {
	ListAvailable(ctx context.Context) ([]postgres.Tank, error)
	Buy(ctx context.Context, accountID int64, tankID int) (postgres.BuyResult, error)
	Equip(ctx context.Context, accountID int64, tankID int) error
}

// InventoryStore defines the inventory operations required by the Handler.
type InventoryStore interface {
	ListByUser(ctx context.Context, accountID int64) ([]postgres.InventoryEntry, error)
}

// Handler runs the envelope loop for every gateway session: decode one
// line, dispatch on the type tag, reply or push. All cross-session effects
// go through the lobby directory's own synchronization.
type Handler struct {
	accounts  AccountStore
	shop      ShopStore
	tanks     TankStore
	inventory InventoryStore
	rooms     *lobby.Directory

	relayAddr    string
	writeTimeout time.Duration
	sink         *events.Sink
	logger       *zap.Logger
}

// NewHandler creates a session handler wired to the given stores and lobby.
//
// Precondition: all stores, rooms, sink, and logger must be non-nil;
// relayAddr is the address advertised to clients when a match starts.
func NewHandler(
	accounts AccountStore,
	shop ShopStore,
	tanks TankStore,
	inventory InventoryStore,
	rooms *lobby.Directory,
	relayAddr string,
	writeTimeout time.Duration,
	sink *events.Sink,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		accounts:     accounts,
		shop:         shop,
		tanks:        tanks,
		inventory:    inventory,
		rooms:        rooms,
		relayAddr:    relayAddr,
		writeTimeout: writeTimeout,
		sink:         sink,
		logger:       logger,
	}
}

// HandleSession reads envelopes off conn until EOF or a read error, then
// runs the implicit-leave cleanup. Malformed lines are logged and skipped;
// they never terminate the connection.
func (h *Handler) HandleSession(ctx context.Context, conn net.Conn) {
	sess := newSession(conn, h.writeTimeout, h.logger)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			sess.logger.Warn("malformed envelope skipped", zap.Error(err))
			continue
		}

		h.dispatch(ctx, sess, msg)
	}

	if err := scanner.Err(); err != nil {
		sess.logger.Debug("connection read ended", zap.Error(err))
	}

	h.disconnect(sess)
}

// dispatch routes one decoded message to its handler.
func (h *Handler) dispatch(ctx context.Context, sess *session, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Login:
		h.handleLogin(ctx, sess, m)
	case *protocol.Register:
		h.handleRegister(ctx, sess, m)
	case *protocol.CreateRoom:
		h.handleCreateRoom(sess, m)
	case *protocol.JoinRoom:
		h.handleJoinRoom(sess, m)
	case *protocol.LeaveRoom:
		h.handleLeaveRoom(sess)
	case *protocol.PlayerReady:
		h.handlePlayerReady(sess, m)
	case *protocol.SelectMap:
		h.handleSelectMap(sess, m)
	case *protocol.StartGame:
		h.handleStartGame(sess)
	case *protocol.RoomList:
		h.handleRoomList(sess)
	case *protocol.ShopList:
		h.handleShopList(ctx, sess)
	case *protocol.BuyItem:
		h.handleBuyItem(ctx, sess, m)
	case *protocol.TankShopList:
		h.handleTankShopList(ctx, sess)
	case *protocol.BuyTank:
		h.handleBuyTank(ctx, sess, m)
	case *protocol.EquipTank:
		h.handleEquipTank(ctx, sess, m)
	case *protocol.InventoryRequest:
		h.handleInventory(ctx, sess)
	default:
		sess.logger.Warn("unexpected message type",
			zap.Int("type", int(msg.MessageType())),
		)
	}
}

// disconnect runs the implicit-leave path when the socket dies: remove the
// session from its room, broadcast the change, delete the room if empty.
func (h *Handler) disconnect(sess *session) {
	if sess.room == nil {
		return
	}
	room := sess.room
	sess.room = nil

	h.rooms.LeaveRoom(room, sess)
	h.rooms.BroadcastUpdate(room, fmt.Sprintf("%s disconnected", sess.username))
}

func (h *Handler) handleLogin(ctx context.Context, sess *session, m *protocol.Login) {
	account, err := h.accounts.Authenticate(ctx, m.Username, m.Password)
	if err != nil {
		// A failed attempt drops any prior authentication on this session.
		sess.username = ""
		sess.accountID = 0

		reason := "INVALID_CREDENTIALS"
		if !errors.Is(err, postgres.ErrAccountNotFound) && !errors.Is(err, postgres.ErrInvalidCredentials) {
			reason = "INTERNAL_ERROR"
			sess.logger.Error("authenticating account", zap.String("username", m.Username), zap.Error(err))
		}
		sess.Push(&protocol.LoginFail{Msg: reason})
		return
	}

	sess.username = account.Username
	sess.accountID = account.ID
	sess.logger.Info("login", zap.String("username", account.Username))
	h.sink.Publish(events.Event{
		Type:    events.ClientLogin,
		Source:  sess.conn.RemoteAddr().String(),
		Message: account.Username,
	})
	sess.Push(&protocol.LoginOK{Msg: "Welcome " + account.Username})
}

func (h *Handler) handleRegister(ctx context.Context, sess *session, m *protocol.Register) {
	if m.Username == "" || m.Password == "" {
		sess.Push(&protocol.RegisterFail{Msg: "EMPTY_CREDENTIALS"})
		return
	}

	_, err := h.accounts.Create(ctx, m.Username, m.Password)
	if err != nil {
		reason := "INTERNAL_ERROR"
		if errors.Is(err, postgres.ErrAccountExists) {
			reason = "USERNAME_TAKEN"
		} else {
			sess.logger.Error("creating account", zap.String("username", m.Username), zap.Error(err))
		}
		sess.Push(&protocol.RegisterFail{Msg: reason})
		return
	}

	sess.logger.Info("account registered", zap.String("username", m.Username))
	h.sink.Publish(events.Event{
		Type:    events.ClientRegister,
		Source:  sess.conn.RemoteAddr().String(),
		Message: m.Username,
	})
	sess.Push(&protocol.RegisterOK{Msg: "Account created"})
}

// requireAuth pushes a failure and returns false when the session has not
// logged in yet.
func (h *Handler) requireAuth(sess *session) bool {
	if !sess.authenticated() {
		sess.Push(&protocol.LoginFail{Msg: "NOT_AUTHENTICATED"})
		return false
	}
	return true
}

func (h *Handler) handleCreateRoom(sess *session, m *protocol.CreateRoom) {
	if !h.requireAuth(sess) {
		return
	}
	if sess.room != nil {
		sess.Push(&protocol.RoomFail{Msg: "ALREADY_IN_ROOM"})
		return
	}

	room, err := h.rooms.CreateRoom(m.RoomName, sess, m.MaxPlayers, m.Password)
	if err != nil {
		sess.Push(&protocol.RoomFail{Msg: "INVALID_ROOM"})
		return
	}
	sess.room = room

	sess.Push(&protocol.RoomCreated{
		RoomID:     room.ID(),
		RoomName:   room.Name(),
		MaxPlayers: room.MaxPlayers(),
		Players:    room.PlayerNames(),
	})
}

func (h *Handler) handleJoinRoom(sess *session, m *protocol.JoinRoom) {
	if !h.requireAuth(sess) {
		return
	}
	if sess.room != nil {
		sess.Push(&protocol.RoomFail{Msg: "ALREADY_IN_ROOM"})
		return
	}

	room, err := h.rooms.JoinRoom(m.RoomID, m.Password, sess)
	if err != nil {
		sess.Push(&protocol.RoomFail{Msg: joinFailure(err)})
		return
	}
	sess.room = room

	sess.Push(&protocol.RoomJoined{
		RoomID:   room.ID(),
		RoomName: room.Name(),
		Players:  room.PlayerNames(),
	})
	h.rooms.BroadcastUpdate(room, fmt.Sprintf("%s joined", sess.username))
}

// joinFailure maps a directory error to its wire status.
func joinFailure(err error) string {
	switch {
	case errors.Is(err, lobby.ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case errors.Is(err, lobby.ErrRoomFull):
		return "ROOM_FULL"
	case errors.Is(err, lobby.ErrWrongPassword):
		return "WRONG_PASSWORD"
	default:
		return "INTERNAL_ERROR"
	}
}

func (h *Handler) handleLeaveRoom(sess *session) {
	if !h.requireAuth(sess) {
		return
	}
	if sess.room == nil {
		return
	}

	room := sess.room
	sess.room = nil
	h.rooms.LeaveRoom(room, sess)
	h.rooms.BroadcastUpdate(room, fmt.Sprintf("%s left", sess.username))
}

func (h *Handler) handlePlayerReady(sess *session, m *protocol.PlayerReady) {
	if !h.requireAuth(sess) || sess.room == nil {
		return
	}

	state := "not ready"
	if m.Ready {
		state = "ready"
	}
	h.rooms.BroadcastUpdate(sess.room, fmt.Sprintf("%s is %s", sess.username, state))
}

func (h *Handler) handleSelectMap(sess *session, m *protocol.SelectMap) {
	if !h.requireAuth(sess) {
		return
	}
	if sess.room == nil {
		sess.Push(&protocol.RoomFail{Msg: "NOT_IN_ROOM"})
		return
	}

	if err := h.rooms.SetSelectedMap(sess.room, sess, m.MapID); err != nil {
		sess.Push(&protocol.RoomFail{Msg: "NOT_HOST"})
	}
}

func (h *Handler) handleStartGame(sess *session) {
	if !h.requireAuth(sess) {
		return
	}
	if sess.room == nil {
		sess.Push(&protocol.RoomFail{Msg: "NOT_IN_ROOM"})
		return
	}

	if err := h.rooms.StartMatch(sess.room, sess, h.relayAddr); err != nil {
		sess.Push(&protocol.RoomFail{Msg: "NOT_HOST"})
	}
}

func (h *Handler) handleRoomList(sess *session) {
	if !h.requireAuth(sess) {
		return
	}
	sess.Push(&protocol.RoomListData{Rooms: h.rooms.ListRooms()})
}

func (h *Handler) handleShopList(ctx context.Context, sess *session) {
	if !h.requireAuth(sess) {
		return
	}

	items, err := h.shop.ListAvailable(ctx)
	if err != nil {
		sess.logger.Error("listing shop items", zap.Error(err))
		h.publishError("shop list failed", err)
		sess.Push(&protocol.ShopListData{})
		return
	}
	gold, err := h.accounts.Gold(ctx, sess.accountID)
	if err != nil {
		sess.logger.Error("reading gold balance", zap.Error(err))
	}

	data := &protocol.ShopListData{Gold: gold}
	for _, item := range items {
		data.Items = append(data.Items, protocol.ShopItem{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Price:       item.BasePrice,
			Discount:    item.Discount,
			Stock:       item.Stock,
			Attributes:  item.Attributes,
		})
	}
	sess.Push(data)
}

func (h *Handler) handleBuyItem(ctx context.Context, sess *session, m *protocol.BuyItem) {
	if !h.requireAuth(sess) {
		return
	}

	qty := m.Quantity
	if qty < 1 {
		qty = 1
	}

	result, err := h.shop.Purchase(ctx, sess.accountID, m.ItemID, qty)
	if err != nil {
		sess.logger.Error("purchasing item",
			zap.Int("item_id", m.ItemID),
			zap.Int("quantity", qty),
			zap.Error(err),
		)
		h.publishError("item purchase failed", err)
		sess.Push(&protocol.BuyFail{Msg: "INTERNAL_ERROR"})
		return
	}
	if result.Status != postgres.BuyOK {
		sess.Push(&protocol.BuyFail{Msg: string(result.Status)})
		return
	}

	sess.Push(&protocol.BuySuccess{Gold: result.RemainingGold, Msg: string(result.Status)})
}

func (h *Handler) handleTankShopList(ctx context.Context, sess *session) {
	if !h.requireAuth(sess) {
		return
	}

	tanks, err := h.tanks.ListAvailable(ctx)
	if err != nil {
		sess.logger.Error("listing tanks", zap.Error(err))
		h.publishError("tank list failed", err)
		sess.Push(&protocol.TankShopListData{})
		return
	}
	gold, err := h.accounts.Gold(ctx, sess.accountID)
	if err != nil {
		sess.logger.Error("reading gold balance", zap.Error(err))
	}

	data := &protocol.TankShopListData{Gold: gold}
	for _, tank := range tanks {
		data.Tanks = append(data.Tanks, protocol.ShopItem{
			ID:          tank.ID,
			Name:        tank.Name,
			Description: tank.Description,
			Price:       tank.Price,
			Attributes:  tank.Attributes,
		})
	}
	sess.Push(data)
}

func (h *Handler) handleBuyTank(ctx context.Context, sess *session, m *protocol.BuyTank) {
	if !h.requireAuth(sess) {
		return
	}

	result, err := h.tanks.Buy(ctx, sess.accountID, m.TankID)
	if err != nil {
		sess.logger.Error("purchasing tank", zap.Int("tank_id", m.TankID), zap.Error(err))
		h.publishError("tank purchase failed", err)
		sess.Push(&protocol.BuyFail{Msg: "INTERNAL_ERROR"})
		return
	}
	if result.Status != postgres.BuyOK {
		sess.Push(&protocol.BuyFail{Msg: string(result.Status)})
		return
	}

	sess.Push(&protocol.BuySuccess{Gold: result.RemainingGold, Msg: string(result.Status)})
}

func (h *Handler) handleEquipTank(ctx context.Context, sess *session, m *protocol.EquipTank) {
	if !h.requireAuth(sess) {
		return
	}

	if err := h.tanks.Equip(ctx, sess.accountID, m.TankID); err != nil {
		reason := "INTERNAL_ERROR"
		if errors.Is(err, postgres.ErrTankNotOwned) {
			reason = "TANK_NOT_OWNED"
		} else {
			sess.logger.Error("equipping tank", zap.Int("tank_id", m.TankID), zap.Error(err))
			h.publishError("tank equip failed", err)
		}
		sess.Push(&protocol.EquipTankFail{Msg: reason})
		return
	}

	sess.Push(&protocol.EquipTankSuccess{TankID: m.TankID})
}

func (h *Handler) handleInventory(ctx context.Context, sess *session) {
	if !h.requireAuth(sess) {
		return
	}

	entries, err := h.inventory.ListByUser(ctx, sess.accountID)
	if err != nil {
		sess.logger.Error("listing inventory", zap.Error(err))
		h.publishError("inventory list failed", err)
		sess.Push(&protocol.InventoryData{})
		return
	}

	data := &protocol.InventoryData{}
	for _, e := range entries {
		data.Items = append(data.Items, protocol.InventoryItem{
			ItemID:   e.ItemID,
			Name:     e.Name,
			Quantity: e.Quantity,
		})
	}
	sess.Push(data)
}

func (h *Handler) publishError(message string, err error) {
	h.sink.Publish(events.Event{
		Type:    events.ServerError,
		Source:  "gateway",
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
