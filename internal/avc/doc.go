// Package avc builds and parses the H.264 parameter sets and byte-stream
// framing produced by the video encoder: Sequence and Picture Parameter
// Sets and Annex B start-code framing.
package avc
