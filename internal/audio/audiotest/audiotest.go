// Package audiotest builds small, valid audio containers for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
	"time"
)

// PreSkip is the pre-skip written into OggOpus id headers.
const PreSkip = 312

// OggOpus returns a minimal mono Ogg Opus stream lasting d: id header,
// comment header and one data page whose granule position encodes d.
func OggOpus(inputRate uint32, d time.Duration) []byte {
	granule := uint64(d*48000/time.Second) + PreSkip

	id := make([]byte, 19)
	copy(id, "OpusHead")
	id[8] = 1
	id[9] = 1
	binary.LittleEndian.PutUint16(id[10:12], PreSkip)
	binary.LittleEndian.PutUint32(id[12:16], inputRate)

	tags := append([]byte("OpusTags"), make([]byte, 8)...)

	// Roughly 24kbps worth of payload so size checks behave like real notes.
	payload := int(d.Seconds()*3000) + 600

	var out bytes.Buffer
	seq := uint32(0)
	out.Write(page(0x02, 0, seq, id))
	seq++
	out.Write(page(0x00, 0, seq, tags))
	seq++
	for payload > 0 {
		n := payload
		if n > 60000 {
			n = 60000
		}
		payload -= n
		headerType, pos := byte(0x00), uint64(0)
		if payload == 0 {
			headerType, pos = 0x04, granule
		}
		out.Write(page(headerType, pos, seq, bytes.Repeat([]byte{0xfc}, n)))
		seq++
	}
	return out.Bytes()
}

// OggOpusPages returns a mono Ogg Opus stream with n data pages, each
// advancing the granule position by pageDur.
func OggOpusPages(inputRate uint32, pageDur time.Duration, n int) []byte {
	id := make([]byte, 19)
	copy(id, "OpusHead")
	id[8] = 1
	id[9] = 1
	binary.LittleEndian.PutUint16(id[10:12], PreSkip)
	binary.LittleEndian.PutUint32(id[12:16], inputRate)

	var out bytes.Buffer
	out.Write(page(0x02, 0, 0, id))
	out.Write(page(0x00, 0, 1, append([]byte("OpusTags"), make([]byte, 8)...)))

	step := uint64(pageDur * 48000 / time.Second)
	for i := 1; i <= n; i++ {
		headerType := byte(0x00)
		if i == n {
			headerType = 0x04
		}
		payload := bytes.Repeat([]byte{0xfc}, int(pageDur.Seconds()*3000)+100)
		out.Write(page(headerType, step*uint64(i)+PreSkip, uint32(i+1), payload))
	}
	return out.Bytes()
}

// WAV returns a silent 16-bit PCM WAV file.
func WAV(rate uint32, channels uint16, d time.Duration) []byte {
	const bitDepth = 16
	blockAlign := channels * bitDepth / 8
	dataLen := uint32(d.Seconds()*float64(rate)) * uint32(blockAlign)

	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, 36+dataLen)
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, channels)
	_ = binary.Write(&b, binary.LittleEndian, rate)
	_ = binary.Write(&b, binary.LittleEndian, rate*uint32(blockAlign))
	_ = binary.Write(&b, binary.LittleEndian, blockAlign)
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitDepth))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, dataLen)
	b.Write(make([]byte, dataLen))
	return b.Bytes()
}

func page(headerType byte, granule uint64, seq uint32, payload []byte) []byte {
	var segs []byte
	n := len(payload)
	for n >= 255 {
		segs = append(segs, 255)
		n -= 255
	}
	segs = append(segs, byte(n))

	p := make([]byte, 27, 27+len(segs)+len(payload))
	copy(p, "OggS")
	p[5] = headerType
	binary.LittleEndian.PutUint64(p[6:14], granule)
	binary.LittleEndian.PutUint32(p[14:18], 0x5eed)
	binary.LittleEndian.PutUint32(p[18:22], seq)
	p[26] = byte(len(segs))
	p = append(p, segs...)
	p = append(p, payload...)

	binary.LittleEndian.PutUint32(p[22:26], crc(p))
	return p
}

var crcTable = func() *[256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return &table
}()

func crc(data []byte) uint32 {
	var c uint32
	for _, b := range data {
		c = (c << 8) ^ crcTable[byte(c>>24)^b]
	}
	return c
}
