package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeStart = 0x01
	PacketTypeAudio = 0x02
	PacketTypeStop  = 0x03

	// Start flags
	FlagDenoise = 0x01

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	StartPayloadSize       = 40 // 4 + 1 + 1 + 1 + 1 + 32 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	LabelSize              = 32
	BytesPerSample         = 4

	// MaxPacketSize is the largest packet the 16-bit length field can describe.
	MaxPacketSize = 0xFFFF

	// MaxAudioSamples is the largest number of samples one audio packet carries.
	MaxAudioSamples = (MaxPacketSize - HeaderSize - AudioPayloadHeaderSize) / BytesPerSample

	// MaxChannels bounds the channel count announced by a start packet.
	MaxChannels = 8
)

// Header represents the 8-byte TLV packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Channel:1]
type Header struct {
	PacketType uint8  // 0x01=Start, 0x02=Audio, 0x03=Stop
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Channel    uint8  // Channel of an audio packet, 0 otherwise
}

// StartPayload represents the 40-byte start packet payload
// Layout: [SampleRate:4][Channels:1][DenoiseChannel:1][Flags:1][Reserved:1][Label:32]
type StartPayload struct {
	SampleRate     uint32
	Channels       uint8
	DenoiseChannel uint8
	Flags          uint8
	Reserved       uint8
	Label          [LabelSize]byte // Null-terminated string
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][Samples:N*4]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number, per channel
	AudioData []byte // float32 little-endian samples
}

// ParsedPacket represents a fully parsed TLV packet
type ParsedPacket struct {
	Header *Header
	Start  *StartPayload // Only set for start packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte TLV packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Channel:    data[7],
	}, nil
}

// ParseStartPayload parses the 40-byte start packet payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d",
			StartPayloadSize, len(data))
	}

	payload := &StartPayload{
		SampleRate:     binary.BigEndian.Uint32(data[0:4]),
		Channels:       data[4],
		DenoiseChannel: data[5],
		Flags:          data[6],
		Reserved:       data[7],
	}
	copy(payload.Label[:], data[8:8+LabelSize])

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + samples).
// The returned AudioData aliases data.
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}
	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = data[AudioPayloadHeaderSize:]
	}

	return payload, nil
}

// ParsePacket parses a complete TLV packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		payload, err := ParseStartPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		if err := ValidateStart(payload); err != nil {
			return nil, fmt.Errorf("invalid start payload: %w", err)
		}
		packet.Start = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeStop:
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
		if (payloadSize-AudioPayloadHeaderSize)%BytesPerSample != 0 {
			return fmt.Errorf("audio packet samples not float32 aligned: %d bytes",
				payloadSize-AudioPayloadHeaderSize)
		}
		if header.Channel >= MaxChannels {
			return fmt.Errorf("invalid channel: %d (maximum %d)", header.Channel, MaxChannels-1)
		}
	case PacketTypeStop:
		if payloadSize != 0 {
			return fmt.Errorf("stop packet must have empty payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// ValidateStart validates the stream parameters announced by a start packet.
// The sample rate is checked by the session manager.
func ValidateStart(payload *StartPayload) error {
	if payload.Channels == 0 || payload.Channels > MaxChannels {
		return fmt.Errorf("invalid channel count: %d (1-%d)", payload.Channels, MaxChannels)
	}
	if payload.DenoiseChannel >= payload.Channels {
		return fmt.Errorf("denoise channel %d out of range for %d channels",
			payload.DenoiseChannel, payload.Channels)
	}
	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeAudio || ptype == PacketTypeStop
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// GetLabel extracts the stream label as a string
func (s *StartPayload) GetLabel() string {
	return ExtractString(s.Label[:])
}

// DenoiseEnabled reports whether the start packet asks for denoised output.
func (s *StartPayload) DenoiseEnabled() bool {
	return s.Flags&FlagDenoise != 0
}

// NewStartPayload builds a start payload. Labels longer than LabelSize-1
// bytes are truncated so the field stays null-terminated.
func NewStartPayload(sampleRate uint32, channels, denoiseChannel uint8, denoise bool, label string) *StartPayload {
	payload := &StartPayload{
		SampleRate:     sampleRate,
		Channels:       channels,
		DenoiseChannel: denoiseChannel,
	}
	if denoise {
		payload.Flags |= FlagDenoise
	}
	if len(label) > LabelSize-1 {
		label = label[:LabelSize-1]
	}
	copy(payload.Label[:], label)
	return payload
}

func putHeader(buf []byte, packetType uint8, streamID uint32, channel uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = channel
}

// MarshalStart encodes a start packet.
func MarshalStart(streamID uint32, payload *StartPayload) []byte {
	buf := make([]byte, HeaderSize+StartPayloadSize)
	putHeader(buf, PacketTypeStart, streamID, 0)

	p := buf[HeaderSize:]
	binary.BigEndian.PutUint32(p[0:4], payload.SampleRate)
	p[4] = payload.Channels
	p[5] = payload.DenoiseChannel
	p[6] = payload.Flags
	p[7] = payload.Reserved
	copy(p[8:8+LabelSize], payload.Label[:])

	return buf
}

// MarshalAudio encodes an audio packet carrying audioData, which must hold
// float32 little-endian samples.
func MarshalAudio(streamID uint32, channel uint8, sequence uint32, audioData []byte) ([]byte, error) {
	if len(audioData)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio data not float32 aligned: %d bytes", len(audioData))
	}
	size := HeaderSize + AudioPayloadHeaderSize + len(audioData)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, streamID, channel)
	binary.BigEndian.PutUint32(buf[HeaderSize:HeaderSize+4], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], audioData)

	return buf, nil
}

// MarshalStop encodes a stop packet.
func MarshalStop(streamID uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeStop, streamID, 0)
	return buf
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeStop:
		packetType = "Stop"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Channel:%d}",
		packetType, h.PacketLen, h.StreamID, h.Channel)
}

// String returns a human-readable representation of the start payload
func (s *StartPayload) String() string {
	return fmt.Sprintf("StartPayload{SampleRate:%d, Channels:%d, DenoiseChannel:%d, Denoise:%t, Label:%q}",
		s.SampleRate, s.Channels, s.DenoiseChannel, s.DenoiseEnabled(), s.GetLabel())
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, Samples:%d}", a.Sequence, len(a.AudioData)/BytesPerSample)
}
