package relay

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/classguard/core/classroom"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioUpgrade = '5'
	eioNoop    = '6'
)

// Socket.IO v5 packet types, carried inside Engine.IO message packets.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
	sioBinaryEvent  = '5'
	sioBinaryAck    = '6'
)

// recordSeparator splits packets in a polling payload.
const recordSeparator = "\x1e"

var (
	errEmptyPacket    = errors.New("empty packet")
	errIgnoredPacket  = errors.New("packet ignored")
	errNotAnEvent     = errors.New("not an event packet")
	errBadEventFormat = errors.New("malformed event packet")
)

type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
	MaxPayload   int      `json:"maxPayload"`
}

func parseHandshake(pkt string) (handshake, error) {
	var hs handshake
	if len(pkt) == 0 || pkt[0] != eioOpen {
		return hs, errors.Errorf("expected open packet, got %q", truncate(pkt))
	}
	if err := json.Unmarshal([]byte(pkt[1:]), &hs); err != nil {
		return hs, errors.Wrap(err, "decoding open packet")
	}
	if hs.PingInterval <= 0 {
		hs.PingInterval = 25000
	}
	if hs.PingTimeout <= 0 {
		hs.PingTimeout = 20000
	}
	return hs, nil
}

// encodeEvent builds the `42["name",payload]` text packet.
func encodeEvent(name string, payload interface{}) (string, error) {
	args := []interface{}{name}
	if payload != nil {
		args = append(args, payload)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", name)
	}
	return string([]byte{eioMessage, sioEvent}) + string(b), nil
}

func connectPacket() string {
	return string([]byte{eioMessage, sioConnect})
}

func disconnectPacket() string {
	return string([]byte{eioMessage, sioDisconnect})
}

// socketPacket is a decoded Socket.IO packet of the default namespace.
type socketPacket struct {
	typ  byte
	data string // JSON body, ack id and namespace stripped
}

// decodeSocketPacket decodes the payload of an Engine.IO message packet.
// Packets for other namespaces are reported as errIgnoredPacket.
func decodeSocketPacket(msg string) (socketPacket, error) {
	if len(msg) == 0 {
		return socketPacket{}, errEmptyPacket
	}
	p := socketPacket{typ: msg[0]}
	rest := msg[1:]

	if p.typ == sioBinaryEvent || p.typ == sioBinaryAck {
		return p, errors.Wrap(errIgnoredPacket, "binary attachments are not supported")
	}

	// namespace
	if strings.HasPrefix(rest, "/") {
		end := strings.IndexByte(rest, ',')
		nsp := rest
		if end >= 0 {
			nsp, rest = rest[:end], rest[end+1:]
		} else {
			rest = ""
		}
		if nsp != "/" {
			return p, errors.Wrapf(errIgnoredPacket, "namespace %s", nsp)
		}
	}

	// ack id
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	p.data = rest[i:]
	return p, nil
}

// decodeEvent turns the body of an event packet (`["name",payload]`) into a RawEvent.
func decodeEvent(p socketPacket) (classroom.RawEvent, error) {
	if p.typ != sioEvent {
		return classroom.RawEvent{}, errNotAnEvent
	}
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(p.data), &args); err != nil || len(args) == 0 {
		return classroom.RawEvent{}, errBadEventFormat
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name == "" {
		return classroom.RawEvent{}, errBadEventFormat
	}
	ev := classroom.RawEvent{Name: name}
	if len(args) > 1 {
		ev.Payload = args[1]
	}
	return ev, nil
}

// connectErrorMessage extracts the message of a `44{"message":...}` packet.
func connectErrorMessage(p socketPacket) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(p.data), &body); err == nil && body.Message != "" {
		return body.Message
	}
	if p.data != "" {
		return p.data
	}
	return "connection refused"
}

func splitPayload(body string) []string {
	if body == "" {
		return nil
	}
	return strings.Split(body, recordSeparator)
}

func joinPayload(pkts []string) string {
	return strings.Join(pkts, recordSeparator)
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
