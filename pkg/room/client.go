package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

const (
	handshakeTimeout = 10 * time.Second

	// opusFrameDuration is the encode/playback frame size. 20ms is the
	// WebRTC default and keeps barge-in latency low.
	opusFrameDuration = 20 * time.Millisecond

	maxOpusPacket = 1500
)

// Config configures a gateway room connection.
type Config struct {
	// GatewayURL is the signalling WebSocket endpoint (ws:// or wss://).
	GatewayURL string

	// Token authenticates the agent with the gateway.
	Token string

	// RoomID is the room to join.
	RoomID string

	// Identity is the agent's participant identity. Defaults to "agent".
	Identity string

	// SampleRate is the PCM16 rate exchanged with the session.
	// Defaults to 16000.
	SampleRate int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client joins a room through the gateway: signalling over WebSocket, audio
// over a WebRTC peer connection. Incoming participant audio is decoded from
// Opus to PCM16 and handed to the audio callback; Play encodes PCM16 back to
// Opus and publishes it on the agent's track.
type Client struct {
	cfg    Config
	logger *slog.Logger

	wsMu sync.Mutex
	ws   *websocket.Conn

	pc       *webrtc.PeerConnection
	outTrack *webrtc.TrackLocalStaticSample

	encMu      sync.Mutex
	encoder    *opus.Encoder
	pending    []int16
	frameSamps int

	cbMu    sync.Mutex
	onAudio func(pcm16 []byte)
	onEvent func(Event)

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates an unconnected room client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("room: gateway URL required")
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("room: room ID required")
	}
	if cfg.Identity == "" {
		cfg.Identity = "agent"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "room", "room", cfg.RoomID),
		frameSamps: cfg.SampleRate * int(opusFrameDuration/time.Millisecond) / 1000,
		done:       make(chan struct{}),
	}, nil
}

// OnAudioFrame registers the callback for decoded participant audio.
// Register before Connect.
func (c *Client) OnAudioFrame(fn func(pcm16 []byte)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onAudio = fn
}

// OnEvent registers the callback for room events. Register before Connect.
func (c *Client) OnEvent(fn func(Event)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onEvent = fn
}

// signalMessage is the gateway signalling envelope.
type signalMessage struct {
	Type        string                   `json:"type"`
	Room        string                   `json:"room,omitempty"`
	Identity    string                   `json:"identity,omitempty"`
	SDP         *sdpPayload              `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Participant string                   `json:"participant,omitempty"`
	Source      string                   `json:"source,omitempty"`
	Metadata    string                   `json:"metadata,omitempty"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Connect dials the gateway, joins the room, and sets up the peer
// connection. The gateway drives SDP negotiation with an offer.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	headers := http.Header{}
	if c.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, c.cfg.GatewayURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("room: gateway dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("room: gateway dial failed: %w", err)
	}
	c.ws = ws

	if err := c.setupPeerConnection(); err != nil {
		ws.Close()
		return err
	}

	if err := c.writeSignal(signalMessage{
		Type:     "join",
		Room:     c.cfg.RoomID,
		Identity: c.cfg.Identity,
	}); err != nil {
		c.Close()
		return fmt.Errorf("room: join failed: %w", err)
	}

	go c.signallingPump()

	c.logger.Info("joined room", "identity", c.cfg.Identity)
	return nil
}

func (c *Client) setupPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("room: peer connection: %w", err)
	}
	c.pc = pc

	// Participant audio comes in, the agent's voice goes out.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("room: add audio transceiver: %w", err)
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"agent-audio", c.cfg.Identity,
	)
	if err != nil {
		return fmt.Errorf("room: create output track: %w", err)
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		return fmt.Errorf("room: add output track: %w", err)
	}
	c.outTrack = outTrack

	encoder, err := opus.NewEncoder(c.cfg.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("room: opus encoder: %w", err)
	}
	c.encoder = encoder

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		c.logger.Info("audio track received", "codec", track.Codec().MimeType)
		go c.audioPump(track)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := c.writeSignal(signalMessage{Type: "ice", Candidate: &init}); err != nil {
			c.logger.Debug("ice candidate send failed", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Info("peer connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			c.emitEvent(Event{Kind: EventRoomDisconnected, Room: c.cfg.RoomID, Time: time.Now()})
		}
	})

	return nil
}

// signallingPump reads gateway messages until the connection drops.
func (c *Client) signallingPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("signalling connection lost", "error", err)
				c.emitEvent(Event{Kind: EventRoomDisconnected, Room: c.cfg.RoomID, Time: time.Now()})
			}
			return
		}

		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("unparseable signal", "error", err)
			continue
		}
		c.handleSignal(msg)
	}
}

func (c *Client) handleSignal(msg signalMessage) {
	now := time.Now()
	switch msg.Type {
	case "offer":
		if msg.SDP == nil {
			return
		}
		c.handleOffer(msg.SDP.SDP)

	case "ice":
		if msg.Candidate == nil {
			return
		}
		if err := c.pc.AddICECandidate(*msg.Candidate); err != nil {
			c.logger.Debug("add ice candidate failed", "error", err)
		}

	case "participant_joined":
		c.emitEvent(Event{
			Kind:        EventParticipantConnected,
			Room:        c.cfg.RoomID,
			Participant: msg.Participant,
			Metadata:    msg.Metadata,
			Time:        now,
		})

	case "participant_left":
		c.emitEvent(Event{
			Kind:        EventParticipantDisconnected,
			Room:        c.cfg.RoomID,
			Participant: msg.Participant,
			Time:        now,
		})

	case "track_published":
		c.emitEvent(Event{
			Kind:        EventTrackPublished,
			Room:        c.cfg.RoomID,
			Participant: msg.Participant,
			TrackSource: msg.Source,
			Time:        now,
		})

	case "track_unpublished":
		c.emitEvent(Event{
			Kind:        EventTrackUnpublished,
			Room:        c.cfg.RoomID,
			Participant: msg.Participant,
			TrackSource: msg.Source,
			Time:        now,
		})

	case "room_closed":
		c.emitEvent(Event{Kind: EventRoomDisconnected, Room: c.cfg.RoomID, Time: now})
	}
}

func (c *Client) handleOffer(sdp string) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		c.logger.Warn("set remote description failed", "error", err)
		return
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.logger.Warn("create answer failed", "error", err)
		return
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.logger.Warn("set local description failed", "error", err)
		return
	}
	if err := c.writeSignal(signalMessage{
		Type: "answer",
		SDP:  &sdpPayload{Type: answer.Type.String(), SDP: answer.SDP},
	}); err != nil {
		c.logger.Warn("answer send failed", "error", err)
	}
}

// audioPump decodes the participant's Opus RTP stream into PCM16 frames.
func (c *Client) audioPump(track *webrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(c.cfg.SampleRate, 1)
	if err != nil {
		c.logger.Error("opus decoder", "error", err)
		return
	}

	// Up to 60ms per packet.
	pcm := make([]int16, c.cfg.SampleRate*60/1000)

	var lastSeq uint16
	var gotFirst bool

	for {
		select {
		case <-c.done:
			return
		default:
		}

		var packet *rtp.Packet
		packet, _, err = track.ReadRTP()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("audio track ended", "error", err)
			}
			return
		}
		if gotFirst && packet.SequenceNumber != lastSeq+1 {
			c.logger.Debug("rtp sequence gap", "expected", lastSeq+1, "got", packet.SequenceNumber)
		}
		lastSeq = packet.SequenceNumber
		gotFirst = true

		if len(packet.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(packet.Payload, pcm)
		if err != nil {
			c.logger.Debug("opus decode failed", "error", err)
			continue
		}

		frame := make([]byte, n*2)
		for i := 0; i < n; i++ {
			frame[2*i] = byte(uint16(pcm[i]))
			frame[2*i+1] = byte(uint16(pcm[i]) >> 8)
		}

		c.cbMu.Lock()
		fn := c.onAudio
		c.cbMu.Unlock()
		if fn != nil {
			fn(frame)
		}
	}
}

// Play encodes PCM16 audio to Opus and publishes it on the agent's track.
// Input is buffered into fixed 20ms frames; a trailing partial frame is held
// until more audio arrives.
func (c *Client) Play(pcm16 []byte) error {
	if c.outTrack == nil {
		return fmt.Errorf("room: not connected")
	}

	c.encMu.Lock()
	defer c.encMu.Unlock()

	for i := 0; i+1 < len(pcm16); i += 2 {
		c.pending = append(c.pending, int16(uint16(pcm16[i])|uint16(pcm16[i+1])<<8))
	}

	packet := make([]byte, maxOpusPacket)
	for len(c.pending) >= c.frameSamps {
		frame := c.pending[:c.frameSamps]
		n, err := c.encoder.Encode(frame, packet)
		if err != nil {
			return fmt.Errorf("room: opus encode: %w", err)
		}
		if err := c.outTrack.WriteSample(media.Sample{
			Data:     append([]byte(nil), packet[:n]...),
			Duration: opusFrameDuration,
		}); err != nil {
			return fmt.Errorf("room: write sample: %w", err)
		}
		c.pending = c.pending[c.frameSamps:]
	}
	return nil
}

func (c *Client) writeSignal(msg signalMessage) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *Client) emitEvent(ev Event) {
	c.cbMu.Lock()
	fn := c.onEvent
	c.cbMu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Close leaves the room and tears down the peer connection. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.writeSignal(signalMessage{Type: "leave", Room: c.cfg.RoomID})
		}
		if c.pc != nil {
			err = c.pc.Close()
		}
		if c.ws != nil {
			if cerr := c.ws.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
