// Package meshannounce gossips registry.Snapshot changes to peers over a
// libp2p stream protocol, grounded on internal/network's prior
// SetStreamHandler/NewStream pattern (now narrowed to just building the
// host; this package owns the stream protocol itself). It stays
// self-contained rather than importing kernel/core/mesh directly: that
// package lives in the sibling github.com/nmxmxh/inos_v1/kernel module, and
// wiring a second replace across both module boundaries for a gossip side
// channel isn't worth the coupling when the wire shape here is this small.
// cmd/modhostd wires this up behind --mesh-identity.
package meshannounce

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nmxmxh/inos_v1/pkg/modhost/registry"
)

// ProtocolID is the libp2p stream protocol meshannounce speaks.
const ProtocolID = "/modhost/announce/1.0.0"

// Kind tags what changed in the registry.
type Kind string

const (
	KindLoaded   Kind = "loaded"
	KindUnloaded Kind = "unloaded"
)

// Event describes one registry mutation worth telling peers about.
type Event struct {
	Kind   Kind
	Module string
}

// Announcer broadcasts Events to every connected peer and notifies a
// handler when a peer announces one of its own.
type Announcer struct {
	host    libp2p_host.Host
	log     *slog.Logger
	onEvent func(peer.ID, Event)
}

// New registers ProtocolID's stream handler on host. onEvent, if non-nil, is
// invoked for every Event received from a peer (the caller typically feeds
// this into its own registry.Registry to mirror remote state).
func New(host libp2p_host.Host, logger *slog.Logger, onEvent func(peer.ID, Event)) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Announcer{host: host, log: logger.With("component", "meshannounce"), onEvent: onEvent}
	host.SetStreamHandler(ProtocolID, a.handleStream)
	return a
}

func (a *Announcer) handleStream(s network.Stream) {
	defer s.Close()
	data, err := io.ReadAll(s)
	if err != nil {
		a.log.Warn("read announce stream failed", "error", err)
		return
	}
	ev, err := decode(data)
	if err != nil {
		a.log.Warn("decode announce payload failed", "error", err)
		return
	}
	if a.onEvent != nil {
		a.onEvent(s.Conn().RemotePeer(), ev)
	}
}

// Broadcast sends ev to every peer host is currently connected to,
// collecting per-peer send failures rather than aborting on the first one.
func (a *Announcer) Broadcast(ctx context.Context, ev Event) error {
	payload, err := encode(ev)
	if err != nil {
		return fmt.Errorf("meshannounce: encode event: %w", err)
	}

	var failures []error
	for _, conn := range a.host.Network().Conns() {
		pid := conn.RemotePeer()
		stream, err := a.host.NewStream(ctx, pid, ProtocolID)
		if err != nil {
			failures = append(failures, fmt.Errorf("open stream to %s: %w", pid, err))
			continue
		}
		if _, err := stream.Write(payload); err != nil {
			failures = append(failures, fmt.Errorf("write to %s: %w", pid, err))
		}
		stream.Close()
	}
	if len(failures) > 0 {
		return fmt.Errorf("meshannounce: %d peer(s) failed: %v", len(failures), failures)
	}
	return nil
}

// Dial connects to addr and returns its peer ID, for callers wiring up a
// fixed set of seed peers.
func Dial(ctx context.Context, host libp2p_host.Host, addr string) (peer.ID, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("meshannounce: parse addr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return "", fmt.Errorf("meshannounce: resolve addr: %w", err)
	}
	if err := host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("meshannounce: connect: %w", err)
	}
	return info.ID, nil
}

// SnapshotEvents diffs two registry snapshots into the events a caller
// should broadcast after a batch of Registry mutations, rather than one
// Broadcast call per Add/Remove.
func SnapshotEvents(before, after registry.Snapshot) []Event {
	afterSet := make(map[string]bool, len(after.Modules))
	for _, m := range after.Modules {
		afterSet[m] = true
	}
	beforeSet := make(map[string]bool, len(before.Modules))
	for _, m := range before.Modules {
		beforeSet[m] = true
	}

	var events []Event
	for _, m := range after.Modules {
		if !beforeSet[m] {
			events = append(events, Event{Kind: KindLoaded, Module: m})
		}
	}
	for _, m := range before.Modules {
		if !afterSet[m] {
			events = append(events, Event{Kind: KindUnloaded, Module: m})
		}
	}
	return events
}

// encode/decode use protobuf's structpb so the wire format is a real
// protobuf message without requiring a generated .pb.go for this small,
// two-field payload.
func encode(ev Event) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"kind":   string(ev.Kind),
		"module": ev.Module,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func decode(data []byte) (Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Event{}, err
	}
	fields := s.GetFields()
	return Event{
		Kind:   Kind(fields["kind"].GetStringValue()),
		Module: fields["module"].GetStringValue(),
	}, nil
}
