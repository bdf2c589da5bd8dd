package audit

import (
	"github.com/gin-gonic/gin"
	dbconf "github.com/kthomas/go-db-config"
	provide "github.com/provideplatform/provide-go/common"
)

// InstallAPI registers the audit API handlers with gin
func InstallAPI(r *gin.Engine) {
	r.GET("/api/audit/root", auditRootHandler)
}

// fetch the current audit commitment root
func auditRootHandler(c *gin.Context) {
	trail, err := RequireTrail(dbconf.DatabaseConnection())
	if err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}

	root, length := trail.Root()
	provide.Render(map[string]interface{}{
		"root":   root,
		"length": length,
	}, 200, c)
}
