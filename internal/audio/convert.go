package audio

import (
	"encoding/binary"
	"log/slog"
)

// Convert returns p in the target format. Resampling happens before channel
// mapping so stereo is never resampled only to be folded to mono. A PCM
// already in the target format is returned unchanged.
func Convert(p PCM, target Format) PCM {
	if p.Format == target {
		return p
	}
	slog.Debug("audio format mismatch: converting", "from", p.Format.String(), "to", target.String())

	data := p.Data
	ch := p.Format.Channels

	if ch > MaxChannels {
		data = Downmix(data, ch, MaxChannels)
		ch = MaxChannels
	}

	if p.Format.SampleRate != target.SampleRate {
		if ch == 1 {
			data = ResampleMono16(data, p.Format.SampleRate, target.SampleRate)
		} else {
			data = ResampleStereo16(data, p.Format.SampleRate, target.SampleRate)
		}
	}

	switch {
	case ch == 1 && target.Channels == 2:
		data = MonoToStereo(data)
	case ch == 2 && target.Channels == 1:
		data = StereoToMono(data)
	}
	return NewPCM(data, target)
}

// Downmix folds interleaved PCM with from channels into to channels by
// averaging source channel c into output channel c%to.
func Downmix(pcm []byte, from, to int) []byte {
	if from <= to || to <= 0 {
		return pcm
	}
	frames := len(pcm) / (from * BytesPerSample)
	out := make([]byte, frames*to*BytesPerSample)
	sums := make([]int32, to)
	counts := make([]int32, to)
	for i := range frames {
		clear(sums)
		clear(counts)
		for c := range from {
			off := (i*from + c) * BytesPerSample
			sums[c%to] += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
			counts[c%to]++
		}
		for c := range to {
			v := clamp16(sums[c] / counts[c])
			binary.LittleEndian.PutUint16(out[(i*to+c)*BytesPerSample:], uint16(v))
		}
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages each L+R pair.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate by linear
// interpolation.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples stereo PCM from srcRate to dstRate by linear
// interpolation.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 2, srcRate, dstRate)
}

func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	fb := channels * BytesPerSample
	srcFrames := len(pcm) / fb
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*fb)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(frame, ch int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[frame*fb+ch*BytesPerSample:])))
	}

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			v := int16(sample(idx, ch)*(1-frac) + sample(next, ch)*frac)
			binary.LittleEndian.PutUint16(out[i*fb+ch*BytesPerSample:], uint16(v))
		}
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples converts little-endian bytes to int16 samples. A trailing
// odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}
