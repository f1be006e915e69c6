package audio

import "math"

// EncodePCM16 converts stereo float samples in [-1, 1] (the layout used by
// beep streamers) into little-endian int16 PCM with the given channel count.
// For mono output L and R are averaged. Out-of-range values are clamped.
func EncodePCM16(samples [][2]float64, channels int) []byte {
	if channels != 2 {
		channels = 1
	}
	out := make([]byte, 0, len(samples)*bytesPerSample*channels)
	for _, s := range samples {
		if channels == 1 {
			out = appendSample(out, (s[0]+s[1])/2)
			continue
		}
		out = appendSample(out, s[0])
		out = appendSample(out, s[1])
	}
	return out
}

// appendSample clamps v to [-1, 1], scales it to int16 and appends the two
// little-endian bytes.
func appendSample(out []byte, v float64) []byte {
	v = math.Max(-1, math.Min(1, v))
	var i int32
	if v < 0 {
		i = int32(v * 32768)
	} else {
		i = int32(v * 32767)
	}
	return append(out, byte(i), byte(i>>8))
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}
