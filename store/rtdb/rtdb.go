/*
Package rtdb implements ledger.Store on the Firebase Realtime Database.

PURPOSE:
  The hosted store every reception terminal shares. Paths map one to one
  onto database references.

ATOMICITY:
  Update is a single multi-location update on the root reference, which
  the database applies all-or-nothing. Overlapping paths are rejected
  before the call, the database would refuse them anyway.

ERRORS:
  Transport failures (unreachable host, timeouts, 503) are wrapped with
  ledger.ErrStoreUnavailable so the offline probe and callers can tell
  them apart from rejected writes.

SEE ALSO:
  - ledger/store.go: Interface definition
  - auth/firebase.go: ID-token verification on the same App
*/
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/errorutils"
	"google.golang.org/api/option"

	"github.com/warp/reception-ledger/ledger"
)

// Config locates the Firebase project.
type Config struct {
	ProjectID       string
	DatabaseURL     string
	CredentialsFile string
}

// NewApp initializes the Firebase app. Without a credentials file the
// application default credentials are used.
func NewApp(ctx context.Context, cfg Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	return app, nil
}

// Store is a ledger.Store backed by a database client.
type Store struct {
	client *db.Client
}

var _ ledger.Store = (*Store)(nil)

// New opens the app's default database.
func New(ctx context.Context, app *firebase.App) (*Store, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("open realtime database: %w", err)
	}
	return &Store{client: client}, nil
}

func ref(path string) string {
	return "/" + ledger.Join(path)
}

func (s *Store) Get(ctx context.Context, path string, dest any) (bool, error) {
	var raw json.RawMessage
	if err := s.client.NewRef(ref(path)).Get(ctx, &raw); err != nil {
		return false, classify("get "+path, err)
	}
	if absent(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("get %s: %w: %v", path, ledger.ErrDecode, err)
	}
	return true, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	if len(ledger.Split(path)) == 0 {
		return fmt.Errorf("%w: cannot replace the root", ledger.ErrInvalidPath)
	}
	v, err := ledger.Normalize(value)
	if err != nil {
		return err
	}
	r := s.client.NewRef(ref(path))
	if v == nil {
		err = r.Delete(ctx)
	} else {
		err = r.Set(ctx, v)
	}
	if err != nil {
		return classify("set "+path, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, writes ledger.Writes) error {
	if err := ledger.ValidateWrites(writes); err != nil {
		return err
	}
	update, err := multiLocation(writes)
	if err != nil {
		return err
	}
	if err := s.client.NewRef("/").Update(ctx, update); err != nil {
		return classify("update", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	if len(ledger.Split(path)) == 0 {
		return fmt.Errorf("%w: cannot remove the root", ledger.ErrInvalidPath)
	}
	if err := s.client.NewRef(ref(path)).Delete(ctx); err != nil {
		return classify("remove "+path, err)
	}
	return nil
}

// multiLocation builds the root-relative update body. A nil value deletes
// the location.
func multiLocation(writes ledger.Writes) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(writes))
	for p, v := range writes {
		n, err := ledger.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", p, err)
		}
		out[ledger.Join(p)] = n
	}
	return out, nil
}

func absent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errorutils.IsUnavailable(err) ||
		errorutils.IsDeadlineExceeded(err) {
		return fmt.Errorf("%s: %w: %v", op, ledger.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
