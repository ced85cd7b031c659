package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor = 1 << 0
	SourceTypeWindow  = 1 << 1
	SourceTypeVirtual = 1 << 2
)

// Cursor modes for SelectSources
const (
	CursorModeHidden   = 1 << 0
	CursorModeEmbedded = 1 << 1
	CursorModeMetadata = 1 << 2
)

// Persist modes for SelectSources
const (
	PersistModeNone        = 0
	PersistModeApplication = 1
	PersistModeSession     = 2
)

// Request response codes
const (
	responseSuccess   = 0
	responseCancelled = 1
)

var errPortalCancelled = errors.New("portal request cancelled by the user")

var handleSeq atomic.Uint64

// PortalChecker asks xdg-desktop-portal's ScreenCast interface. A granted
// request leaves a restore token behind so later requests skip the dialog.
type PortalChecker struct {
	conn         *dbus.Conn
	mu           sync.Mutex
	restoreToken string
	tokenPath    string
}

// NewPortalChecker connects to the session bus. tokenPath is where the
// restore token is kept; empty disables persistence.
func NewPortalChecker(tokenPath string) (*PortalChecker, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &PortalChecker{
		conn:         conn,
		tokenPath:    tokenPath,
		restoreToken: loadRestoreToken(tokenPath),
	}, nil
}

// Name returns the checker name
func (p *PortalChecker) Name() string { return "portal" }

// Close closes the bus connection
func (p *PortalChecker) Close() error {
	return p.conn.Close()
}

// Check reports whether the portal can share individual windows
func (p *PortalChecker) Check(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	obj := p.conn.Object(portalService, portalPath)
	v, err := obj.GetProperty(screenCastIface + ".AvailableSourceTypes")
	if err != nil {
		return false, fmt.Errorf("failed to read AvailableSourceTypes: %w", err)
	}
	types, ok := v.Value().(uint32)
	if !ok {
		return false, fmt.Errorf("unexpected AvailableSourceTypes type %T", v.Value())
	}
	return HasWindowSource(types), nil
}

// HasWindowSource reports whether a source type mask allows window capture
func HasWindowSource(types uint32) bool {
	return types&SourceTypeWindow != 0
}

// Request runs a full ScreenCast handshake so the user can grant access,
// then closes the session. A dismissed dialog returns false without error.
func (p *PortalChecker) Request(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.WithComponent("portal")

	session, err := p.createSession(ctx)
	if err != nil {
		return denied(err)
	}
	defer p.conn.Object(portalService, session).Call(sessionIface+".Close", 0)
	log.Debug().Str("session", string(session)).Msg("Created portal session")

	if err := p.selectSources(ctx, session); err != nil {
		return denied(err)
	}

	if err := p.start(ctx, session); err != nil {
		return denied(err)
	}
	log.Info().Msg("Screen capture permission granted")
	return true, nil
}

func denied(err error) (bool, error) {
	if errors.Is(err, errPortalCancelled) {
		return false, nil
	}
	return false, err
}

func (p *PortalChecker) createSession(ctx context.Context) (dbus.ObjectPath, error) {
	results, err := p.call(ctx, "CreateSession", map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(newHandleToken("session")),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	v, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session handle in response")
	}
	switch h := v.Value().(type) {
	case dbus.ObjectPath:
		return h, nil
	case string:
		return dbus.ObjectPath(h), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type: %T", h)
	}
}

func (p *PortalChecker) selectSources(ctx context.Context, session dbus.ObjectPath) error {
	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(uint32(SourceTypeWindow)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(CursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(PersistModeApplication)),
	}
	if p.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
	}
	if _, err := p.call(ctx, "SelectSources", options, session); err != nil {
		return fmt.Errorf("failed to select sources: %w", err)
	}
	return nil
}

func (p *PortalChecker) start(ctx context.Context, session dbus.ObjectPath) error {
	results, err := p.call(ctx, "Start", map[string]dbus.Variant{}, session, "")
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	if v, ok := results["restore_token"]; ok {
		if token, ok := v.Value().(string); ok && token != "" {
			p.restoreToken = token
			if err := saveRestoreToken(p.tokenPath, token); err != nil {
				logger.WithComponent("portal").Warn().Err(err).Msg("Failed to save restore token")
			}
		}
	}
	return nil
}

// call invokes a ScreenCast method that answers through a Request object and
// waits for its Response signal. options gets a fresh handle_token and is
// passed as the last argument.
func (p *PortalChecker) call(ctx context.Context, method string, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")
	options["handle_token"] = dbus.MakeVariant(newHandleToken(method))

	// Subscribe before calling so a fast response is not missed
	responses := make(chan *dbus.Signal, 10)
	match := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, match).Err; err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	p.conn.Signal(responses)
	defer p.conn.RemoveSignal(responses)

	var requestPath dbus.ObjectPath
	obj := p.conn.Object(portalService, portalPath)
	if err := obj.CallWithContext(ctx, screenCastIface+"."+method, 0, append(args, options)...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	log.Debug().Str("request_path", string(requestPath)).Msgf("Waiting for %s response", method)

	for {
		select {
		case <-ctx.Done():
			p.conn.Object(portalService, requestPath).Call(requestIface+".Close", 0)
			return nil, ctx.Err()
		case sig := <-responses:
			results, matched, err := parseResponse(sig, requestPath)
			if matched {
				return results, err
			}
		}
	}
}

// parseResponse decodes a Request.Response signal. matched is false for
// signals belonging to other requests.
func parseResponse(sig *dbus.Signal, requestPath dbus.ObjectPath) (results map[string]dbus.Variant, matched bool, err error) {
	if sig == nil || sig.Path != requestPath || sig.Name != requestIface+".Response" {
		return nil, false, nil
	}
	if len(sig.Body) < 1 {
		return nil, true, fmt.Errorf("invalid response")
	}
	code, ok := sig.Body[0].(uint32)
	if !ok {
		return nil, true, fmt.Errorf("invalid response code type %T", sig.Body[0])
	}
	if len(sig.Body) > 1 {
		results, _ = sig.Body[1].(map[string]dbus.Variant)
	}
	switch code {
	case responseSuccess:
		return results, true, nil
	case responseCancelled:
		return nil, true, errPortalCancelled
	default:
		return nil, true, fmt.Errorf("portal request denied (code %d)", code)
	}
}

func newHandleToken(prefix string) string {
	return fmt.Sprintf("regionpip_%s_%d_%d", prefix, os.Getpid(), handleSeq.Add(1))
}

type storedToken struct {
	Token string `json:"token"`
}

// loadRestoreToken reads the token saved by a previous grant
func loadRestoreToken(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var t storedToken
	if err := json.Unmarshal(data, &t); err != nil {
		return ""
	}
	return t.Token
}

// saveRestoreToken stores token for the next run
func saveRestoreToken(path, token string) error {
	if path == "" || token == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.Marshal(storedToken{Token: token})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
