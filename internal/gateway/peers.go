// Разрешение сущностей: peers.Manager из gotd, прогреваемый из персистентного
// bbolt-хранилища (gotd/contrib/bbolt + gotd/contrib/storage). После рестарта уже
// виденные каналы разрешаются без повторного обхода всего списка диалогов.
package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const (
	peersBucketName             = "peers"
	dbOpenTimeout               = time.Second
	dbFileMode      os.FileMode = 0o600
)

var peersBucketBytes = []byte(peersBucketName)

// peerStore — peers.Manager gotd плюс персистентный PeerStorage на bbolt,
// по одному экземпляру на аккаунт.
type peerStore struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	mgr   *peers.Manager
}

func newPeerStore(api *tg.Client, dbPath string) (*peerStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("gateway: ensure peer db dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(dbPath, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("gateway: open peer db: %w", err)
	}

	return &peerStore{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucketBytes),
		mgr:   (peers.Options{}).Build(api),
	}, nil
}

func (p *peerStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// LoadFromStorage проигрывает сохранённые peer'ы в in-memory peers.Manager:
// разрешение сущностей работает сразу после рестарта, без похода в сеть.
func (p *peerStore) LoadFromStorage(ctx context.Context) error {
	exists := false
	if err := p.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(peersBucketBytes) != nil
		return nil
	}); err != nil {
		return fmt.Errorf("gateway: inspect peer db: %w", err)
	}
	if !exists {
		return nil
	}

	iter, err := p.store.Iterate(ctx)
	if err != nil {
		return fmt.Errorf("gateway: iterate stored peers: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var users []tg.UserClass
	var chats []tg.ChatClass
	for iter.Next(ctx) {
		value := iter.Value()
		switch value.Key.Kind {
		case dialogs.User:
			user := value.User
			if user == nil {
				user = &tg.User{ID: value.Key.ID, AccessHash: value.Key.AccessHash}
			}
			users = append(users, user)
		case dialogs.Chat:
			chat := value.Chat
			if chat == nil {
				chat = &tg.Chat{ID: value.Key.ID}
			}
			chats = append(chats, chat)
		case dialogs.Channel:
			channel := value.Channel
			if channel == nil {
				channel = &tg.Channel{ID: value.Key.ID, AccessHash: value.Key.AccessHash}
			}
			chats = append(chats, channel)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("gateway: iterate stored peers: %w", err)
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	return p.mgr.Apply(ctx, users, chats)
}

// ResolveChannel разрешает числовой id канала в peers.Channel — вход для итерации
// истории, пересылки и операций с топиками.
func (p *peerStore) ResolveChannel(ctx context.Context, id int64) (peers.Channel, error) {
	return p.mgr.ResolveChannelID(ctx, id)
}
