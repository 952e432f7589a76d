// Package resolver turns a configuration descriptor into a byte stream.
//
// A descriptor is an opaque string naming where engine configuration comes
// from. Four forms are recognised:
//
//	asset://config.json        bundled asset (fs.FS)
//	file:///etc/mocks.yaml     local file
//	https://example.com/mocks  HTTP(S) GET, response body
//	config.json                no scheme: asset, then file, then literal
//
// Without a scheme the resolver guesses in that strict order and the first
// source that opens wins. Only when neither an asset nor a file can be
// opened is the descriptor itself returned as inline content, so
//
//	{"requests": []}
//
// is a valid descriptor too. The empty descriptor resolves to (nil, nil).
package resolver
