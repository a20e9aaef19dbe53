package whatsapp

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

// Service owns the whatsmeow device store and opens one client per session.
// It implements session.Connector and session.CredentialStore.
type Service struct {
	store *sqlstore.Container
}

var (
	_ session.Connector       = (*Service)(nil)
	_ session.CredentialStore = (*Service)(nil)
)

// New creates the service on the application's database so device keys live
// next to the session records.
func New(a app.AppContext) (*Service, error) {
	sqlDB, err := a.DB().DB()
	if err != nil {
		zap.L().Error("whatsapp: failed to get sql.DB from gorm", zap.Error(err))
		return nil, errors.Wrap(err, "obtain underlying sql.DB")
	}
	return NewWithDB(context.Background(), sqlDB, a.Config().Database.Type)
}

// NewWithDB wraps an open database handle and upgrades the device store schema.
func NewWithDB(ctx context.Context, sqlDB *sql.DB, dbType string) (*Service, error) {
	driver := storeDriver(dbType)
	if driver == "sqlite3" {
		// sqlstore migrations need foreign keys
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			zap.L().Warn("whatsapp: unable to enable sqlite foreign_keys pragma", zap.Error(err))
		}
	}

	container := sqlstore.NewWithDB(sqlDB, driver, newLogger("store"))
	if err := container.Upgrade(ctx); err != nil {
		zap.L().Error("whatsapp: sqlstore.Upgrade failed", zap.Error(err), zap.String("driver", driver))
		return nil, errors.Wrap(err, "sqlstore upgrade")
	}
	zap.L().Info("whatsapp: device store ready", zap.String("driver", driver))
	return &Service{store: container}, nil
}

func storeDriver(dbType string) string {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Open builds a client for the session. An empty deviceJID starts a fresh
// device that will pair on Connect.
func (s *Service) Open(ctx context.Context, sessionID, deviceJID string, handler func(session.Event)) (session.Conn, error) {
	dev, err := s.device(ctx, deviceJID)
	if err != nil {
		return nil, err
	}
	client := whatsmeow.NewClient(dev, newLogger("client/"+sessionID))
	// reconnection is owned by the session manager
	client.EnableAutoReconnect = false

	c := &conn{sessionID: sessionID, client: client, emit: handler}
	client.AddEventHandler(c.handleEvent)
	zap.L().Debug("whatsapp: client opened",
		zap.String("session_id", sessionID),
		zap.String("jid", deviceJID),
		zap.Bool("paired", dev.ID != nil))
	return c, nil
}

func (s *Service) device(ctx context.Context, deviceJID string) (*store.Device, error) {
	if deviceJID == "" {
		return s.store.NewDevice(), nil
	}
	jid, err := waTypes.ParseJID(deviceJID)
	if err != nil {
		return nil, errors.Wrapf(err, "parse device jid %q", deviceJID)
	}
	dev, err := s.store.GetDevice(ctx, jid)
	if err != nil {
		return nil, errors.Wrapf(err, "load device %s", deviceJID)
	}
	if dev == nil {
		// keys were removed out of band; pair again
		zap.L().Warn("whatsapp: stored device missing, starting a new pairing", zap.String("jid", deviceJID))
		return s.store.NewDevice(), nil
	}
	return dev, nil
}

// Wipe deletes the stored keys of deviceJID. A missing device is not an error.
func (s *Service) Wipe(ctx context.Context, deviceJID string) error {
	jid, err := waTypes.ParseJID(deviceJID)
	if err != nil {
		return errors.Wrapf(err, "parse device jid %q", deviceJID)
	}
	dev, err := s.store.GetDevice(ctx, jid)
	if err != nil {
		return errors.Wrapf(err, "load device %s", deviceJID)
	}
	if dev == nil {
		return nil
	}
	if err := s.store.DeleteDevice(ctx, dev); err != nil {
		zap.L().Warn("whatsapp: failed to delete persisted store device", zap.Error(err), zap.String("jid", deviceJID))
		return errors.Wrapf(err, "delete device %s", deviceJID)
	}
	zap.L().Info("whatsapp: deleted persisted store device", zap.String("jid", deviceJID))
	return nil
}

// DeviceCount reports how many paired devices the store holds.
func (s *Service) DeviceCount(ctx context.Context) (int, error) {
	devs, err := s.store.GetAllDevices(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list stored devices")
	}
	return len(devs), nil
}
