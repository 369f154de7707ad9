// Package imagecache fetches browse thumbnails (Roku app icons) for the HTTP
// API's image proxy and keeps recent ones in a freecache-backed memory cache,
// so repeated browse views do not hit the device for every icon.
package imagecache
