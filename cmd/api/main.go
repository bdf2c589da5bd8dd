/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	redisutil "github.com/kthomas/go-redisutil"
	"github.com/provideplatform/issuance/audit"
	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/ledger"
	"github.com/provideplatform/issuance/operation"
	"github.com/provideplatform/issuance/wallet"
	provide "github.com/provideplatform/provide-go/common"
)

const shutdownGracePeriod = time.Second * 10

func main() {
	common.Log.Debugf("starting issuance API...")

	common.RequireIssuer()
	common.RequireEncryptionMasterKey()
	redisutil.RequireRedis()
	ledger.Require()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	wallet.InstallAPI(r)
	operation.InstallAPI(r)
	audit.InstallAPI(r)

	r.GET("/health", healthHandler)

	operation.RequireValidationPoller()

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: r,
	}

	go func() {
		common.Log.Debugf("issuance API listening on %s", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("issuance API listener failed; %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	common.Log.Debugf("received signal: %s; shutting down", sig)

	// stop accepting intents, stop the poller, let in-flight executors finish
	// their current step or be abandoned for the poller on next boot
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	srv.Shutdown(ctx)
	operation.StopValidationPoller()

	common.Log.Debug("issuance API exiting")
}

func listenAddr() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return fmt.Sprintf("0.0.0.0:%s", port)
}

func healthHandler(c *gin.Context) {
	provide.Render(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, 200, c)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
