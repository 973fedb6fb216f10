package node

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Node is a daemon component that exposes an HTTP router and serves it
// until its context ends.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
	Serve(ctx context.Context) error
}
