//go:build linux

package source

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/focuswatch/focuswatch/internal/icon"
	"github.com/focuswatch/focuswatch/internal/logger"
)

// i3-ipc protocol constants, shared by i3 and sway.
const (
	ipcMagic = "i3-ipc"

	ipcMsgSubscribe = 2
	ipcMsgGetTree   = 4

	// Event replies have the high bit set on the message type.
	ipcEventWindow = 0x80000003
)

// swaySource consumes the compositor's window event stream over the i3-ipc
// unix socket. Stream errors trigger a transparent reconnect+resubscribe
// unless a stop was requested.
type swaySource struct {
	socketPath string
	conn       net.Conn

	// current mirrors the focused container for title-change attribution
	// and the icon fallback search.
	currentID   int64
	currentProc string
}

// swayNode is the subset of the sway tree/event container we care about.
type swayNode struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Focused          bool    `json:"focused"`
	PID              *uint32 `json:"pid"`
	AppID            *string `json:"app_id"`
	WindowProperties *struct {
		Class    string `json:"class"`
		Instance string `json:"instance"`
	} `json:"window_properties"`
	Nodes         []swayNode `json:"nodes"`
	FloatingNodes []swayNode `json:"floating_nodes"`
}

type swayWindowEvent struct {
	Change    string   `json:"change"`
	Container swayNode `json:"container"`
}

func newSwaySource(socketPath string) (Source, error) {
	s := &swaySource{socketPath: socketPath}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// connect dials the compositor socket and subscribes to window events.
func (s *swaySource) connect() error {
	conn, err := net.Dial("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("%w: cannot reach compositor socket: %v", ErrNoDisplay, err)
	}

	if err := writeIPC(conn, ipcMsgSubscribe, []byte(`["window"]`)); err != nil {
		conn.Close()
		return platformErr("failed to subscribe to window events", err)
	}

	msgType, payload, err := readIPC(conn)
	if err != nil {
		conn.Close()
		return platformErr("failed to read subscribe reply", err)
	}
	if msgType != ipcMsgSubscribe {
		conn.Close()
		return platformErr(fmt.Sprintf("unexpected subscribe reply type %#x", msgType), nil)
	}

	var reply struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil || !reply.Success {
		conn.Close()
		return platformErr("compositor rejected window event subscription", err)
	}

	s.conn = conn
	return nil
}

func (s *swaySource) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// InitialSnapshot walks the layout tree for the focused container.
func (s *swaySource) InitialSnapshot() (*Signal, error) {
	// The event subscription shares the connection; use a one-shot dial so
	// the GET_TREE reply cannot interleave with window events.
	conn, err := net.Dial("unix", s.socketPath)
	if err != nil {
		return nil, platformErr("failed to query layout tree", err)
	}
	defer conn.Close()

	if err := writeIPC(conn, ipcMsgGetTree, nil); err != nil {
		return nil, platformErr("failed to query layout tree", err)
	}
	_, payload, err := readIPC(conn)
	if err != nil {
		return nil, platformErr("failed to read layout tree", err)
	}

	var tree swayNode
	if err := json.Unmarshal(payload, &tree); err != nil {
		return nil, platformErr("failed to parse layout tree", err)
	}

	focused := findFocused(&tree)
	if focused == nil {
		return nil, nil
	}

	return &Signal{Kind: ActiveWindowChanged, Identity: s.containerIdentity(focused)}, nil
}

func findFocused(node *swayNode) *swayNode {
	// Only leaf containers represent windows; split containers report
	// focused=true while holding no window of their own.
	if node.Focused && len(node.Nodes) == 0 && len(node.FloatingNodes) == 0 {
		return node
	}
	for i := range node.Nodes {
		if found := findFocused(&node.Nodes[i]); found != nil {
			return found
		}
	}
	for i := range node.FloatingNodes {
		if found := findFocused(&node.FloatingNodes[i]); found != nil {
			return found
		}
	}
	return nil
}

// Next reads window events off the stream, reconnecting on failure.
func (s *swaySource) Next(stop *atomic.Bool, pollInterval time.Duration) (Signal, error) {
	log := logger.WithComponent("sway")

	for {
		if stopped(stop) {
			return Signal{}, errStopped
		}

		if stop != nil {
			// Cooperative mode: bound each read so the flag is re-checked
			// at least every pollInterval.
			s.conn.SetReadDeadline(time.Now().Add(pollInterval))
		} else {
			s.conn.SetReadDeadline(time.Time{})
		}

		msgType, payload, err := readIPC(s.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Stream broke (compositor restart, socket hiccup): reconnect
			// and resubscribe rather than terminating, unless stopping.
			if stopped(stop) {
				return Signal{}, errStopped
			}
			log.Warn().Err(err).Msg("compositor stream error, reconnecting")
			if err := s.reconnect(stop, pollInterval); err != nil {
				return Signal{}, err
			}
			continue
		}

		if msgType != ipcEventWindow {
			continue
		}

		var event swayWindowEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Debug().Err(err).Msg("failed to parse window event")
			continue
		}

		switch event.Change {
		case "focus":
			s.currentID = event.Container.ID
			return Signal{Kind: ActiveWindowChanged, Identity: s.containerIdentity(&event.Container)}, nil
		case "title":
			// Title events fire for any container; only the focused one is
			// being tracked.
			if event.Container.ID != s.currentID {
				continue
			}
			return Signal{Kind: TitleChanged, Identity: s.containerIdentity(&event.Container)}, nil
		}
	}
}

// reconnect re-establishes the event stream, retrying with backoff until it
// succeeds or the stop flag is set.
func (s *swaySource) reconnect(stop *atomic.Bool, pollInterval time.Duration) error {
	log := logger.WithComponent("sway")
	s.conn.Close()

	delay := pollInterval
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		if stopped(stop) {
			return errStopped
		}
		if err := s.connect(); err != nil {
			log.Debug().Int("attempt", attempt).Err(err).Msg("reconnect failed")
			time.Sleep(delay)
			if delay < time.Second {
				delay *= 2
			}
			continue
		}
		log.Info().Int("attempt", attempt).Msg("reconnected to compositor")
		return nil
	}
}

// containerIdentity derives the focused window identity from a container.
// Process name prefers /proc/<pid>/comm, then the Wayland app_id, then the
// XWayland class.
func (s *swaySource) containerIdentity(node *swayNode) Identity {
	var id Identity

	if node.Name != "" {
		id.WindowTitle = strPtr(node.Name)
	}

	if node.PID != nil {
		id.ProcessID = u32Ptr(*node.PID)
		if name, err := processName(*node.PID); err == nil {
			id.ProcessName = strPtr(name)
		}
	}
	if id.ProcessName == nil && node.AppID != nil && *node.AppID != "" {
		id.ProcessName = strPtr(*node.AppID)
	}
	if id.ProcessName == nil && node.WindowProperties != nil && node.WindowProperties.Class != "" {
		id.ProcessName = strPtr(node.WindowProperties.Class)
	}

	if id.ProcessName != nil {
		s.currentProc = *id.ProcessName
	} else {
		s.currentProc = ""
	}

	return id
}

// Icon has no native path on Wayland: compositors do not expose window
// icons, so the theme fallback search is the whole pipeline here.
func (s *swaySource) Icon(opts Options) (*icon.Image, error) {
	img := icon.Lookup(s.currentProc)
	if img == nil {
		return nil, fmt.Errorf("no icon found for %q", s.currentProc)
	}
	return icon.Resize(img, opts.IconSize), nil
}

// writeIPC frames and sends one i3-ipc message.
func writeIPC(conn net.Conn, msgType uint32, payload []byte) error {
	buf := make([]byte, len(ipcMagic)+8+len(payload))
	copy(buf, ipcMagic)
	binary.LittleEndian.PutUint32(buf[6:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[10:], msgType)
	copy(buf[14:], payload)

	_, err := conn.Write(buf)
	return err
}

// readIPC reads one framed i3-ipc message.
func readIPC(conn net.Conn) (uint32, []byte, error) {
	header := make([]byte, len(ipcMagic)+8)
	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, nil, err
	}
	if string(header[:6]) != ipcMagic {
		return 0, nil, fmt.Errorf("bad ipc magic %q", header[:6])
	}

	length := binary.LittleEndian.Uint32(header[6:])
	msgType := binary.LittleEndian.Uint32(header[10:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}
