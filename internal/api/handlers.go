package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/logging"
)

// userView is the host-facing shape of a credential; tokens never leave the daemon.
type userView struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Type     string    `json:"type"`
	Expires  time.Time `json:"expires,omitzero"`
}

func viewOf(cred account.Credential) userView {
	return userView{ID: cred.ID, Username: cred.Username, Type: cred.Type.String(), Expires: cred.Expires}
}

type offlineLoginRequest struct {
	Username string `json:"username"`
}

type defaultUserRequest struct {
	ID string `json:"id"`
}

func (s *Server) login(c *gin.Context) {
	cred, err := s.manager.Login(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if cred == nil {
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user": viewOf(*cred)})
}

func (s *Server) offlineLogin(c *gin.Context) {
	var req offlineLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	cred, err := s.manager.OfflineLogin(c.Request.Context(), req.Username)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user": viewOf(*cred)})
}

func (s *Server) listUsers(c *gin.Context) {
	users := s.manager.ListUsers(c.Request.Context())
	views := make([]userView, 0, len(users))
	for _, cred := range users {
		views = append(views, viewOf(cred))
	}
	c.JSON(http.StatusOK, gin.H{"users": views})
}

func (s *Server) removeUser(c *gin.Context) {
	if err := s.manager.RemoveUser(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getDefaultUser(c *gin.Context) {
	id := s.manager.GetDefaultUser(c.Request.Context())
	if id == "" {
		c.JSON(http.StatusOK, gin.H{"id": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) setDefaultUser(c *gin.Context) {
	var req defaultUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := s.manager.SetDefaultUser(c.Request.Context(), req.ID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) accountType(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"account_type": s.manager.AccountType(c.Request.Context()).String()})
}

// healthz is open to any client; account details are added only for authorized callers.
func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if _, ok := s.access.authenticate(c.Request); ok {
		body["users"] = s.manager.Store().Len()
		body["shell_connected"] = s.relay != nil && s.relay.Connected()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := account.StatusCode(err)
	entry := logging.FromContext(c.Request.Context()).WithField("path", c.FullPath())
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("command failed")
	} else {
		entry.WithError(err).Info("command rejected")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": account.UserFriendlyMessage(err)})
}
