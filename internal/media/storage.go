package media

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/talkincode/wagate/config"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Storage persists a media payload and returns a URL that webhook consumers can fetch.
type Storage interface {
	Store(ctx context.Context, data []byte, fileName string) (string, error)
}

// NewStorage builds the backend selected in cfg.Media.
func NewStorage(cfg *config.AppConfig) (Storage, error) {
	switch cfg.Media.Backend {
	case config.MediaBackendSFTP:
		return NewSFTPStorage(cfg.Media.SFTP)
	default:
		return NewLocalStorage(cfg.GetMediaDir(), cfg.Media.PublicURL)
	}
}

// LocalStorage writes files into a directory served by the admin web server.
type LocalStorage struct {
	dir       string
	publicURL string
}

func NewLocalStorage(dir, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create media dir %s", dir)
	}
	return &LocalStorage{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (s *LocalStorage) Dir() string {
	return s.dir
}

func (s *LocalStorage) Store(ctx context.Context, data []byte, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(fileName)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write media %s", name)
	}
	if s.publicURL == "" {
		return "/media/" + name, nil
	}
	return s.publicURL + "/" + name, nil
}

// Prune removes files older than maxAge and returns how many were deleted.
func (s *LocalStorage) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			zap.L().Warn("media: prune failed", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// SFTPStorage uploads files to a remote host over SSH.
type SFTPStorage struct {
	cfg    config.SFTPConfig
	sshCfg *ssh.ClientConfig
}

func NewSFTPStorage(cfg config.SFTPConfig) (*SFTPStorage, error) {
	if cfg.Host == "" {
		return nil, errors.New("sftp media storage requires a host")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Dir == "" {
		cfg.Dir = "/media"
	}
	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, errors.Wrapf(err, "load known_hosts %s", cfg.KnownHosts)
		}
		hostKey = cb
	} else {
		zap.L().Warn("media: sftp host key verification disabled, set media.sftp.known_hosts")
	}
	return &SFTPStorage{
		cfg: cfg,
		sshCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
			HostKeyCallback: hostKey,
			Timeout:         10 * time.Second,
		},
	}, nil
}

func (s *SFTPStorage) Store(ctx context.Context, data []byte, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := ssh.Dial("tcp", addr, s.sshCfg)
	if err != nil {
		return "", errors.Wrapf(err, "ssh dial %s", addr)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return "", errors.Wrap(err, "open sftp session")
	}
	defer client.Close()

	if err := client.MkdirAll(s.cfg.Dir); err != nil {
		return "", errors.Wrapf(err, "mkdir %s", s.cfg.Dir)
	}
	name := path.Base(fileName)
	remote := path.Join(s.cfg.Dir, name)
	f, err := client.Create(remote)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", remote)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", errors.Wrapf(err, "write %s", remote)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", remote)
	}

	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + name, nil
	}
	return fmt.Sprintf("sftp://%s%s", addr, remote), nil
}
