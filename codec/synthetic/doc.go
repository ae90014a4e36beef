// Package synthetic provides software encoders that satisfy the codec
// contracts without a hardware codec. The video encoder consumes frames
// rendered onto its input surface and emits a structurally valid H.264
// elementary stream (SPS/PPS codec config, IDR and non-IDR slices on the
// configured GOP); the audio encoder packs 16-bit PCM into 1024-sample
// AAC-LC access units. Payloads are not decodable pictures or audio, but
// timestamps, flags, parameter sets and packet ordering behave like a
// real codec, which is what the pipeline depends on.
package synthetic
