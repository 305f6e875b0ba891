//go:build discoverydebug

package discovery

const panicOnIntegrity = true
