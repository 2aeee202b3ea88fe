package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"

	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/ledger"
)

// mdnsServiceTag scopes local-network peer discovery to this chain, so a
// node never auto-connects to an unrelated libp2p service on the LAN.
const mdnsServiceTag = "spirachain-validator"

// streamTimeout bounds how long a single request/response exchange may
// take before the stream is abandoned.
const streamTimeout = 15 * time.Second

// Handler receives a decoded message from a connected peer. The returned
// Message, if any, is written back to the same stream as a synchronous
// response; returning a zero Message with ok=false means no response is
// sent (used for gossip where the protocol is fire-and-forget).
type Handler func(from peer.ID, msg Message) (response Message, ok bool)

// Node is a libp2p host bound to the block/transaction/sync/height
// protocols, handling both outbound requests and inbound dispatch.
type Node struct {
	host host.Host

	mu      sync.RWMutex
	onBlock Handler
	onTx    Handler
	onSync  Handler
	onBFT   Handler

	chainHeight func() uint64

	mdnsService mdns.Service
}

// NewNode starts a libp2p host listening on listenPort over TCP on every
// interface, with a freshly generated Ed25519 identity.
func NewNode(listenPort int, chainHeight func() uint64) (*Node, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("network: generate identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("network: create host: %w", err)
	}

	n := &Node{host: h, chainHeight: chainHeight}

	h.SetStreamHandler(protocol.ID(BlockProtocolID), n.handleStream(func(p peer.ID, m Message) (Message, bool) {
		return n.dispatch(&n.onBlock, p, m)
	}))
	h.SetStreamHandler(protocol.ID(TransactionProtocolID), n.handleStream(func(p peer.ID, m Message) (Message, bool) {
		return n.dispatch(&n.onTx, p, m)
	}))
	h.SetStreamHandler(protocol.ID(SyncProtocolID), n.handleStream(func(p peer.ID, m Message) (Message, bool) {
		return n.dispatch(&n.onSync, p, m)
	}))
	h.SetStreamHandler(protocol.ID(BFTProtocolID), n.handleStream(func(p peer.ID, m Message) (Message, bool) {
		return n.dispatch(&n.onBFT, p, m)
	}))
	h.SetStreamHandler(protocol.ID(HeightProtocolID), n.handleHeightStream)

	return n, nil
}

// dispatch invokes the registered handler for a protocol, if one has been
// set via OnBlock/OnTransaction/OnSync, otherwise drops the message.
func (n *Node) dispatch(slot *Handler, from peer.ID, msg Message) (Message, bool) {
	n.mu.RLock()
	h := *slot
	n.mu.RUnlock()
	if h == nil {
		return Message{}, false
	}
	return h(from, msg)
}

// OnBlock registers the handler for the block-gossip protocol.
func (n *Node) OnBlock(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onBlock = h
}

// OnTransaction registers the handler for the transaction-gossip protocol.
func (n *Node) OnTransaction(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onTx = h
}

// OnSync registers the handler for the sync request/response protocol.
func (n *Node) OnSync(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onSync = h
}

// OnBFT registers the handler for inbound PrePrepare/Prepare/Commit
// messages. The validator loop wires this to its BFTConsensus instance so
// three-phase voting runs across the connected roster rather than a
// single process.
func (n *Node) OnBFT(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onBFT = h
}

// handleStream wraps a decode-dispatch-encode cycle around a single
// inbound stream.
func (n *Node) handleStream(handle func(peer.ID, Message) (Message, bool)) network.StreamHandler {
	return func(s network.Stream) {
		defer s.Close()
		s.SetDeadline(time.Now().Add(streamTimeout))

		msg, err := ReadMessage(s)
		if err != nil {
			s.Reset()
			return
		}

		response, ok := handle(s.Conn().RemotePeer(), msg)
		if !ok {
			return
		}
		if response.RequestID == "" {
			response.RequestID = msg.RequestID
		}
		if err := WriteMessage(s, response); err != nil {
			s.Reset()
		}
	}
}

// handleHeightStream answers the plaintext height protocol: a peer opens a
// stream, and this node writes back its chain height as ASCII digits
// followed by a newline. It exists alongside the JSON sync protocol as a
// minimal, dependency-free liveness/height probe.
func (n *Node) handleHeightStream(s network.Stream) {
	defer s.Close()
	s.SetDeadline(time.Now().Add(streamTimeout))
	height := uint64(0)
	if n.chainHeight != nil {
		height = n.chainHeight()
	}
	fmt.Fprintf(s, "%d\n", height)
}

// QueryHeight opens a height-protocol stream to p and returns its reported
// chain height.
func (n *Node) QueryHeight(ctx context.Context, p peer.ID) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	s, err := n.host.NewStream(ctx, p, protocol.ID(HeightProtocolID))
	if err != nil {
		return 0, fmt.Errorf("network: open height stream to %s: %w", p, err)
	}
	defer s.Close()

	var height uint64
	if _, err := fmt.Fscanf(s, "%d\n", &height); err != nil {
		return 0, fmt.Errorf("network: read height from %s: %w", p, err)
	}
	return height, nil
}

// sendRequest opens a stream on protocolID to p, writes msg, and reads back
// one response.
func (n *Node) sendRequest(ctx context.Context, p peer.ID, protocolID string, msg Message) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	s, err := n.host.NewStream(ctx, p, protocol.ID(protocolID))
	if err != nil {
		return Message{}, fmt.Errorf("network: open stream to %s: %w", p, err)
	}
	defer s.Close()

	if err := WriteMessage(s, msg); err != nil {
		return Message{}, err
	}
	return ReadMessage(s)
}

// RequestBlocks asks p, over the sync protocol, for up to count blocks
// starting at startHeight.
func (n *Node) RequestBlocks(ctx context.Context, p peer.ID, startHeight, count uint64) ([]*ledger.Block, error) {
	resp, err := n.sendRequest(ctx, p, SyncProtocolID, NewBlockRequest(startHeight, count))
	if err != nil {
		return nil, err
	}
	if resp.Kind != KindBlockResponse {
		return nil, fmt.Errorf("network: unexpected response kind %q to block request", resp.Kind)
	}
	return resp.Blocks, nil
}

// BroadcastBlock sends block to every connected peer over the block
// protocol. Individual peer failures are not fatal; the block still
// reaches whichever peers are reachable.
func (n *Node) BroadcastBlock(ctx context.Context, block *ledger.Block) {
	n.broadcast(ctx, BlockProtocolID, NewBlockMessage(block))
}

// BroadcastTransaction sends tx to every connected peer over the
// transaction protocol.
func (n *Node) BroadcastTransaction(ctx context.Context, tx *ledger.Transaction) {
	n.broadcast(ctx, TransactionProtocolID, NewTransactionMessage(tx))
}

// BroadcastPrePrepare relays a block proposal to every connected peer.
func (n *Node) BroadcastPrePrepare(ctx context.Context, msg consensus.PrePrepareMsg) {
	n.broadcast(ctx, BFTProtocolID, NewPrePrepareMessage(msg))
}

// BroadcastPrepare relays a phase-2 vote to every connected peer.
func (n *Node) BroadcastPrepare(ctx context.Context, msg consensus.PrepareMsg) {
	n.broadcast(ctx, BFTProtocolID, NewPrepareMessage(msg))
}

// BroadcastCommit relays a phase-3 vote to every connected peer.
func (n *Node) BroadcastCommit(ctx context.Context, msg consensus.CommitMsg) {
	n.broadcast(ctx, BFTProtocolID, NewCommitMessage(msg))
}

func (n *Node) broadcast(ctx context.Context, protocolID string, msg Message) {
	for _, p := range n.host.Network().Peers() {
		go func(p peer.ID) {
			s, err := n.host.NewStream(ctx, p, protocol.ID(protocolID))
			if err != nil {
				return
			}
			defer s.Close()
			_ = WriteMessage(s, msg)
		}(p)
	}
}

// Connect dials a peer at addr (a full multiaddr including /p2p/<id>).
func (n *Node) Connect(ctx context.Context, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("network: parse multiaddr %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("network: resolve peer info from %q: %w", addr, err)
	}
	if err := n.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("network: connect to %s: %w", info.ID, err)
	}
	return nil
}

// ConnectToSeeds resolves each DNS seed host to its addresses and attempts
// to connect on the given port; a single bad or unreachable seed doesn't
// prevent the rest from being tried.
func (n *Node) ConnectToSeeds(ctx context.Context, dnsSeeds []string, port int) {
	for _, seed := range dnsSeeds {
		ips, err := net.LookupIP(seed)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			addr := fmt.Sprintf("/ip4/%s/tcp/%d", ip.String(), port)
			if ip.To4() == nil {
				addr = fmt.Sprintf("/ip6/%s/tcp/%d", ip.String(), port)
			}
			maddr, err := multiaddr.NewMultiaddr(addr)
			if err != nil {
				continue
			}
			_ = n.host.Connect(ctx, peer.AddrInfo{Addrs: []multiaddr.Multiaddr{maddr}})
		}
	}
}

// mdnsNotifee bridges mDNS peer discovery into a connection attempt.
type mdnsNotifee struct {
	node *Node
}

func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()
	_ = m.node.host.Connect(ctx, info)
}

// EnableMDNS starts local-network peer discovery; discovered peers are
// connected to automatically.
func (n *Node) EnableMDNS() error {
	svc := mdns.NewMdnsService(n.host, mdnsServiceTag, &mdnsNotifee{node: n})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("network: start mdns: %w", err)
	}
	n.mdnsService = svc
	return nil
}

// ID returns this node's libp2p peer ID.
func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns the multiaddrs this node is listening on, each including
// the /p2p/<id> suffix a peer needs to dial it.
func (n *Node) Addrs() []string {
	id := n.host.ID()
	addrs := n.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, strings.TrimRight(a.String(), "/")+"/p2p/"+id.String())
	}
	return out
}

// PeerCount returns the number of currently connected peers.
func (n *Node) PeerCount() int {
	return len(n.host.Network().Peers())
}

// Close shuts down the host and any discovery services.
func (n *Node) Close() error {
	if n.mdnsService != nil {
		_ = n.mdnsService.Close()
	}
	return n.host.Close()
}
