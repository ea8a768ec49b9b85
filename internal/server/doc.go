// Package server implements the network front ends of the denoise service:
// the UDP server receiving TLV capture packets, the HTTP API for monitoring
// and stream management, and the WebSocket capture endpoint that returns
// denoised frames and VAD results to the client.
package server
