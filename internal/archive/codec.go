package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/resequence"
	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
)

// Container format, modelled on the teacher's pcm_binary.go hybrid
// header: a small fixed, uncompressed header carries every field needed
// to describe the file, followed by a zstd-compressed payload holding
// the bulk I/Q data and the gap tables.
//
// HEADER (uncompressed):
//
//	offset  size  field
//	0       2     magic (0x4951, "IQ")
//	2       1     version
//	3       1     flags (bit0: payload is zstd-compressed)
//	4       4     channel_id length (uint32) + channel_id bytes
//	...     4     sample_rate (int32)
//	...     8     centre_freq (float64)
//	...     4     rtp_start (uint32)
//	...     4     rtp_ssrc (uint32)
//	...     4     packets_received (uint32)
//	...     4     packets_expected (uint32)
//	...     1     has_anchor
//	...     (if has_anchor) 4+8+4(len)+N+4(len)+N+4  time_snap_* fields
//	...     1     has_tone_snapshot
//	...     (if has_tone_snapshot) 4+4+4               tone_* fields
//	...     4     payload_len (uint32, length of what follows)
//	...     N     payload (optionally zstd-compressed)
//
// PAYLOAD (before optional compression):
//
//	4  sample_count (uint32)
//	8*sample_count  interleaved float32 (real, imag) pairs
//	4  gap_count (uint32)
//	gap_count * (4 rtp_index + 4 length + 1 category)
const (
	magic          uint16 = 0x4951
	formatVersion  uint8  = 1
	flagCompressed uint8  = 1 << 0
)

var zstdEncoderPool = newZstdEncoderPool()

func newZstdEncoderPool() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("archive: failed to init zstd encoder: %v", err))
	}
	return enc
}

// Encode serializes m into the on-disk container format, bit-exact for
// round-trip per spec.md §8.
func Encode(m Minute) ([]byte, error) {
	var payload bytes.Buffer

	if err := binary.Write(&payload, binary.LittleEndian, uint32(len(m.IQ))); err != nil {
		return nil, err
	}
	for _, s := range m.IQ {
		if err := binary.Write(&payload, binary.LittleEndian, real(s)); err != nil {
			return nil, err
		}
		if err := binary.Write(&payload, binary.LittleEndian, imag(s)); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&payload, binary.LittleEndian, uint32(len(m.Gaps))); err != nil {
		return nil, err
	}
	for _, g := range m.Gaps {
		if err := binary.Write(&payload, binary.LittleEndian, g.RTPIndex); err != nil {
			return nil, err
		}
		if err := binary.Write(&payload, binary.LittleEndian, g.Length); err != nil {
			return nil, err
		}
		if err := payload.WriteByte(byte(g.Category)); err != nil {
			return nil, err
		}
	}

	compressed := zstdEncoderPool.EncodeAll(payload.Bytes(), make([]byte, 0, payload.Len()/2))

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, magic)
	out.WriteByte(formatVersion)
	out.WriteByte(flagCompressed)

	writeString(&out, m.ChannelID)
	binary.Write(&out, binary.LittleEndian, int32(m.SampleRate))
	binary.Write(&out, binary.LittleEndian, m.CentreHz)
	binary.Write(&out, binary.LittleEndian, m.RTPStart)
	binary.Write(&out, binary.LittleEndian, m.RTPSSRC)
	binary.Write(&out, binary.LittleEndian, m.PacketsReceived)
	binary.Write(&out, binary.LittleEndian, m.PacketsExpected)

	if m.HasAnchor {
		out.WriteByte(1)
		binary.Write(&out, binary.LittleEndian, m.Anchor.RTPIndex)
		binary.Write(&out, binary.LittleEndian, float64(m.Anchor.UTC.UnixNano())/1e9)
		writeString(&out, string(m.Anchor.Source))
		writeString(&out, string(m.Anchor.Station))
		binary.Write(&out, binary.LittleEndian, float32(m.Anchor.Confidence))
	} else {
		out.WriteByte(0)
	}

	if m.HasToneSnapshot {
		out.WriteByte(1)
		binary.Write(&out, binary.LittleEndian, m.ToneSnapshot.Power1000DB)
		binary.Write(&out, binary.LittleEndian, m.ToneSnapshot.Power1200DB)
		binary.Write(&out, binary.LittleEndian, m.ToneSnapshot.WWVHDiffDelayMS)
	} else {
		out.WriteByte(0)
	}

	binary.Write(&out, binary.LittleEndian, uint32(len(compressed)))
	out.Write(compressed)

	return out.Bytes(), nil
}

// Decode parses the on-disk container format back into a Minute.
func Decode(raw []byte) (Minute, error) {
	r := bytes.NewReader(raw)
	var m Minute

	var gotMagic uint16
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return m, fmt.Errorf("archive: read magic: %w", err)
	}
	if gotMagic != magic {
		return m, fmt.Errorf("archive: bad magic %#x", gotMagic)
	}

	var version, flags uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return m, err
	}

	chanID, err := readString(r)
	if err != nil {
		return m, err
	}
	m.ChannelID = chanID

	var sr int32
	if err := binary.Read(r, binary.LittleEndian, &sr); err != nil {
		return m, err
	}
	m.SampleRate = int(sr)

	if err := binary.Read(r, binary.LittleEndian, &m.CentreHz); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.RTPStart); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.RTPSSRC); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.PacketsReceived); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.PacketsExpected); err != nil {
		return m, err
	}

	var hasAnchor byte
	if err := binary.Read(r, binary.LittleEndian, &hasAnchor); err != nil {
		return m, err
	}
	if hasAnchor == 1 {
		m.HasAnchor = true
		if err := binary.Read(r, binary.LittleEndian, &m.Anchor.RTPIndex); err != nil {
			return m, err
		}
		var utcSec float64
		if err := binary.Read(r, binary.LittleEndian, &utcSec); err != nil {
			return m, err
		}
		m.Anchor.UTC = secondsToTime(utcSec)
		src, err := readString(r)
		if err != nil {
			return m, err
		}
		m.Anchor.Source = timesnap.Source(src)
		station, err := readString(r)
		if err != nil {
			return m, err
		}
		m.Anchor.Station = channelcfg.Station(station)
		var conf float32
		if err := binary.Read(r, binary.LittleEndian, &conf); err != nil {
			return m, err
		}
		m.Anchor.Confidence = float64(conf)
	}

	var hasTone byte
	if err := binary.Read(r, binary.LittleEndian, &hasTone); err != nil {
		return m, err
	}
	if hasTone == 1 {
		m.HasToneSnapshot = true
		if err := binary.Read(r, binary.LittleEndian, &m.ToneSnapshot.Power1000DB); err != nil {
			return m, err
		}
		if err := binary.Read(r, binary.LittleEndian, &m.ToneSnapshot.Power1200DB); err != nil {
			return m, err
		}
		if err := binary.Read(r, binary.LittleEndian, &m.ToneSnapshot.WWVHDiffDelayMS); err != nil {
			return m, err
		}
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return m, err
	}
	compressed := make([]byte, payloadLen)
	if _, err := r.Read(compressed); err != nil {
		return m, err
	}

	var payload []byte
	if flags&flagCompressed != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return m, err
		}
		payload, err = dec.DecodeAll(compressed, nil)
		dec.Close()
		if err != nil {
			return m, fmt.Errorf("archive: zstd decode: %w", err)
		}
	} else {
		payload = compressed
	}

	pr := bytes.NewReader(payload)
	var sampleCount uint32
	if err := binary.Read(pr, binary.LittleEndian, &sampleCount); err != nil {
		return m, err
	}
	m.IQ = make([]complex64, sampleCount)
	for i := range m.IQ {
		var re, im float32
		if err := binary.Read(pr, binary.LittleEndian, &re); err != nil {
			return m, err
		}
		if err := binary.Read(pr, binary.LittleEndian, &im); err != nil {
			return m, err
		}
		m.IQ[i] = complex(re, im)
	}

	var gapCount uint32
	if err := binary.Read(pr, binary.LittleEndian, &gapCount); err != nil {
		return m, err
	}
	m.Gaps = make([]Gap, gapCount)
	for i := range m.Gaps {
		if err := binary.Read(pr, binary.LittleEndian, &m.Gaps[i].RTPIndex); err != nil {
			return m, err
		}
		if err := binary.Read(pr, binary.LittleEndian, &m.Gaps[i].Length); err != nil {
			return m, err
		}
		var cat byte
		if err := binary.Read(pr, binary.LittleEndian, &cat); err != nil {
			return m, err
		}
		m.Gaps[i].Category = resequence.GapCategory(cat)
	}

	return m, nil
}

func writeString(w *bytes.Buffer, s string) {
	binary.Write(w, binary.LittleEndian, uint32(len(s)))
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func secondsToTime(sec float64) time.Time {
	whole := math.Floor(sec)
	frac := sec - whole
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
