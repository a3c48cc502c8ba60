// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package httpapi implements the read-only Status API: operator
// introspection over live sessions, the redundancy topology, the point
// table and the last audit state. It is
// ambient observability, not a T104 protocol surface, and never mutates
// Gateway state — every route reads through the accessor methods
// internal/gateway already exposes for this purpose.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/riclolsen/iec104north/internal/gateway"
)

// Server wraps a gin.Engine bound to one Gateway, following the
// InstallHandler(group, manager) composition harnsgateway's pkg/web and
// pkg/collector use for their own HTTP surface.
type Server struct {
	router *gin.Engine
	http   *http.Server
}

// NewServer builds a Status API server listening on addr (e.g.
// "127.0.0.1:8080"). gw is read through its read-only accessors only.
func NewServer(gw *gateway.Gateway, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/status")
	InstallHandler(v1, gw)

	return &Server{
		router: router,
		http:   &http.Server{Addr: addr, Handler: router},
	}
}

// InstallHandler registers the Status API routes on group against gw.
func InstallHandler(group *gin.RouterGroup, gw *gateway.Gateway) {
	group.GET("/sessions", getSessions(gw))
	group.GET("/points", getPoints(gw))
	group.GET("/audit", getAudit(gw))
	group.GET("/south", getSouth(gw))
}

// Serve starts the HTTP listener in the background and returns immediately,
// the same shape as harnsgateway's web.Server.Serve.
func (s *Server) Serve() {
	go func() {
		_ = s.http.ListenAndServe()
	}()
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func getSessions(gw *gateway.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gw.SessionsSnapshot())
	}
}

func getPoints(gw *gateway.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		points := gw.Points().Snapshot()
		out := make([]gin.H, 0, len(points))
		for _, p := range points {
			row := gin.H{
				"ca":       p.CA,
				"ioa":      p.IOA,
				"type":     p.Type.String(),
				"updated":  p.Updated,
				"quality":  p.Value.Quality,
				"giGroups": fmt.Sprintf("%032b", p.GIGroups),
			}
			if p.Time != nil {
				row["timestampMs"] = p.Time.ToMs(time.UTC)
			}
			out = append(out, row)
		}
		c.JSON(http.StatusOK, out)
	}
}

func getAudit(gw *gateway.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		global, ok := gw.Audit().LastGlobal()
		resp := gin.H{"globalSet": ok, "global": string(global)}

		perPath := make([]gin.H, 0)
		for _, g := range gw.Redundancy().Groups() {
			for _, s := range g.Slots {
				status, set := gw.Audit().LastPerPath(g.Index, s.Letter)
				if !set {
					continue
				}
				perPath = append(perPath, gin.H{
					"group":  g.Name,
					"index":  g.Index,
					"path":   string(s.Letter),
					"status": string(status),
				})
			}
		}
		resp["perPath"] = perPath
		c.JSON(http.StatusOK, resp)
	}
}

func getSouth(gw *gateway.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gw.South().Snapshot())
	}
}
