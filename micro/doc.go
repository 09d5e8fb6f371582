// Package micro implements the endpoint registry and ping/info/stats
// discovery subjects of the micro-services convention layered on top
// of the core client.
package micro
