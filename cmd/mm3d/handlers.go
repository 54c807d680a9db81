package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dougsko/mm3d/pkg/client"
	"github.com/dougsko/mm3d/pkg/hardware"
	"github.com/dougsko/mm3d/pkg/logging"
	"github.com/dougsko/mm3d/pkg/protocol"
	"github.com/dougsko/mm3d/pkg/qsolog"
)

// httpStatus maps an engine error code to an HTTP status
func httpStatus(code string) int {
	switch code {
	case protocol.CodeBadRequest, protocol.CodeValidation:
		return http.StatusBadRequest
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeTuning, protocol.CodeKnobActive, protocol.CodeNothingToExport:
		return http.StatusConflict
	case protocol.CodeDeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	var cmdErr *client.CommandError
	if errors.As(err, &cmdErr) {
		c.JSON(httpStatus(cmdErr.Code), gin.H{
			"error": cmdErr.Message,
			"code":  cmdErr.Code,
		})
		return
	}
	if errors.Is(err, client.ErrLineBreak) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  protocol.CodeBadRequest,
		})
		return
	}
	// the socket itself failed
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

func writeResponse(c *gin.Context, resp *protocol.Response) {
	body := gin.H{}
	for k, v := range resp.Data {
		body[k] = v
	}
	if resp.Notice != "" {
		body["notice"] = resp.Notice
	}
	c.JSON(http.StatusOK, body)
}

// handleGetStatus returns engine status via socket
func (d *MM3Daemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleGetQSOs lists the log. call, limit and offset query the
// stored copy.
func (d *MM3Daemon) handleGetQSOs(c *gin.Context) {
	filters := make(map[string]string)
	for _, key := range []string{"call", "limit", "offset", "since", "until"} {
		if v := c.Query(key); v != "" {
			filters[key] = v
		}
	}

	cmd := protocol.CmdQSOs
	if len(filters) > 0 {
		cmd += ":" + protocol.FormatPairs(filters)
	}
	resp, err := d.socketClient.Do(cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	writeResponse(c, resp)
}

// handleLogQSO fills the entry from the body and logs it
func (d *MM3Daemon) handleLogQSO(c *gin.Context) {
	var fields qsolog.Fields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := d.socketClient.LogQSO(fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"qso": entry})
}

func (d *MM3Daemon) handleDeleteQSO(c *gin.Context) {
	nr, err := strconv.Atoi(c.Param("nr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position"})
		return
	}
	if err := d.socketClient.DeleteQSO(nr); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": nr})
}

func (d *MM3Daemon) handleGetMacros(c *gin.Context) {
	resp, err := d.socketClient.Do(protocol.CmdMacros)
	if err != nil {
		writeError(c, err)
		return
	}
	writeResponse(c, resp)
}

// handleSetMacro replaces the text and/or label of a slot
func (d *MM3Daemon) handleSetMacro(c *gin.Context) {
	var req struct {
		Text  *string `json:"text"`
		Label *string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == nil && req.Label == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or label is required"})
		return
	}

	key := c.Param("key")
	var resp *protocol.Response
	var err error
	if req.Text != nil {
		resp, err = d.socketClient.Do(fmt.Sprintf("%s:%s %s", protocol.CmdSetMacro, key, *req.Text))
		if err != nil {
			writeError(c, err)
			return
		}
	}
	if req.Label != nil {
		resp, err = d.socketClient.Do(fmt.Sprintf("%s:%s %s", protocol.CmdLabel, key, *req.Label))
		if err != nil {
			writeError(c, err)
			return
		}
	}
	writeResponse(c, resp)
}

func (d *MM3Daemon) handleSendMacro(c *gin.Context) {
	resp, err := d.socketClient.SendMacro(c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeResponse(c, resp)
}

// handleCommand passes a raw control command through and returns the
// engine's response as is
func (d *MM3Daemon) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := d.socketClient.SendCommand(req.Command)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !resp.Success {
		status = httpStatus(resp.Code)
	}
	c.JSON(status, resp)
}

// handleGetSerialDevices returns serial devices a keyer could be on
func (d *MM3Daemon) handleGetSerialDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"serial_devices": hardware.ListSerialPorts(),
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// echoUpdate is pushed to websocket clients when anything changes
type echoUpdate struct {
	Type      string `json:"type"`
	LastSent  string `json:"last_sent"`
	Frequency string `json:"frequency"`
	Mode      string `json:"mode"`
}

// handleEchoWebSocket streams the keyer echo, frequency and mode
func (d *MM3Daemon) handleEchoWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("http", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Debug("http", "Echo WebSocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last echoUpdate
	for {
		select {
		case <-ticker.C:
			line, _ := d.coreEngine.Monitor().LastLine()
			update := echoUpdate{
				Type:      "echo",
				LastSent:  line,
				Frequency: d.coreEngine.Frequency(),
				Mode:      d.coreEngine.Mode().String(),
			}
			if update == last {
				continue
			}
			if err := conn.WriteJSON(update); err != nil {
				logging.Debugf("http", "WebSocket write error: %v", err)
				return
			}
			last = update

		case <-closed:
			return
		case <-d.ctx.Done():
			return
		}
	}
}
