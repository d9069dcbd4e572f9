// Package workspace manages the per-build filesystem scope. Every admitted
// build gets exactly one workspace directory named by its build ID; the
// workspace owns all files the build creates and is removed on every exit
// path, including timeouts and cancellation. Release failures are logged
// rather than propagated so cleanup can never block returning a build result.
package workspace
