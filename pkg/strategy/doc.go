// Package strategy answers intercepted requests from the network, the
// cache generations, or the offline shell.
//
// Each request class has one strategy:
//
//   - Navigation: network first. Successful pages are copied into the
//     dynamic generation. When the network fails, an exact match from any
//     generation is served, then the offline shell.
//   - StaticAsset: cache first, from the static generation only. A miss is
//     fetched and copied into the static generation.
//   - Dynamic: network first. Only 200 responses are copied into the dynamic
//     generation. When the network fails, an exact match from any generation
//     is served.
//
// Error responses from the origin are never a failure: they are returned as
// they are, uncached, and never trigger a fallback. Cache writes run as
// extensions of the fetch event, so a response is returned before its copy
// is stored. Write failures are logged and dropped.
package strategy
