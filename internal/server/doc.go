// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the origin registry that decides which remote asset URLs may be cached.
// The asset route only validates and normalizes input; loading is delegated
// to an injected AssetHandler so the cache wiring stays in the viewer package.
// Diagnostics live under /-/ and are registered by the routes subpackage.
package server
