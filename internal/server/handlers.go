package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"teiten/internal/camera"
	"teiten/internal/timelapse"
)

// errInvalidOutputPath はクライアントが指定した出力先を受け付けられないことを示す
var errInvalidOutputPath = errors.New("出力先は保存先ディレクトリ配下を指定してください")

// handler はAPIエンドポイントの実装
type handler struct {
	manager   *timelapse.Manager
	directory camera.Directory
	root      string // 出力先を制限する保存先ルート
}

// errorResponse はエラー時のレスポンス
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// startRequest はタイムラプス開始リクエスト
type startRequest struct {
	CameraIDs     []int `json:"camera_ids" binding:"required"`
	Interval      int   `json:"interval" binding:"gte=0"`
	DurationLimit *int  `json:"duration_limit"`
}

// exportRequest は単一セッションの書き出しリクエスト
type exportRequest struct {
	Format     string `json:"format" binding:"required,alphanum"`
	OutputPath string `json:"output_path"`
}

// exportMultipleRequest は複数セッションの一括書き出しリクエスト
type exportMultipleRequest struct {
	SessionIDs []string `json:"session_ids" binding:"required,min=1,dive,required"`
	Format     string   `json:"format" binding:"required,alphanum"`
	OutputDir  string   `json:"output_dir"`
}

// frameURI はフレーム取得のパスパラメータ
type frameURI struct {
	ID    string `uri:"id" binding:"required"`
	Index int    `uri:"index" binding:"gte=0"`
}

// health はヘルスチェックエンドポイント
func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// status は録画システムの状態を返す
func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"timelapse": h.manager.Status(),
		"active":    h.manager.ActiveSessionIDs(),
		"cameras":   len(h.directory.List()),
		"timestamp": time.Now(),
	})
}

// listCameras はカメラ一覧を返す
func (h *handler) listCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": h.directory.List()})
}

// listSessions はセッション一覧を新しい順に返す
func (h *handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.ListSessions()})
}

// getSession はセッションの詳細を返す
func (h *handler) getSession(c *gin.Context) {
	sess, ok := h.manager.GetSession(c.Param("id"))
	if !ok {
		writeError(c, timelapse.ErrSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// startSessions は選択したカメラの録画を開始する
func (h *handler) startSessions(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	cameras, err := h.directory.Resolve(req.CameraIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	created, err := h.manager.StartTimelapse(cameras, req.Interval, req.DurationLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessions": created})
}

// stopSession は録画を停止する
func (h *handler) stopSession(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.GetSession(id); !ok {
		writeError(c, timelapse.ErrSessionNotFound)
		return
	}

	h.manager.StopTimelapse(id)

	sess, _ := h.manager.GetSession(id)
	c.JSON(http.StatusOK, sess)
}

// stopAll は全ての録画を停止する
func (h *handler) stopAll(c *gin.Context) {
	stopped := h.manager.ActiveSessionIDs()
	h.manager.StopAll()
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// deleteSession はセッションを削除する。存在しないIDでも成功扱い
func (h *handler) deleteSession(c *gin.Context) {
	if err := h.manager.DeleteSession(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// exportSession は1件のセッションを書き出す
func (h *handler) exportSession(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	output, err := h.outputPath(req.OutputPath)
	if err != nil {
		writeError(c, err)
		return
	}
	if output != "" && !strings.EqualFold(filepath.Ext(output), "."+req.Format) {
		writeError(c, fmt.Errorf("%w: 拡張子が形式と一致しません (%s)", errInvalidOutputPath, req.OutputPath))
		return
	}

	path, err := h.manager.ExportSession(c.Request.Context(), c.Param("id"), req.Format, output)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "format": req.Format})
}

// exportMultiple は複数セッションを同じ形式で書き出す
//
// 一部が失敗しても書き出せた分のパスを返す。全件失敗した場合のみエラーにする。
func (h *handler) exportMultiple(c *gin.Context) {
	var req exportMultipleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	outputDir, err := h.outputPath(req.OutputDir)
	if err != nil {
		writeError(c, err)
		return
	}

	paths, err := h.manager.ExportMultiple(c.Request.Context(), req.SessionIDs, req.Format, outputDir)
	if err != nil && len(paths) == 0 {
		writeError(c, err)
		return
	}

	resp := gin.H{"paths": paths, "format": req.Format}
	if err != nil {
		resp["errors"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// frame は再生用にフレーム画像を返す
func (h *handler) frame(c *gin.Context) {
	var uri frameURI
	if err := c.ShouldBindUri(&uri); err != nil {
		writeBindError(c, err)
		return
	}

	path, err := h.manager.FramePath(uri.ID, uri.Index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.File(path)
}

// outputPath はクライアントが指定した出力先を保存先ルート配下の絶対パスに解決する
//
// 相対パスはルートからの相対とみなす。空ならそのまま返す。
func (h *handler) outputPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	root, err := filepath.Abs(h.root)
	if err != nil {
		return "", fmt.Errorf("保存先ルートの解決に失敗: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errInvalidOutputPath, path)
	}
	return path, nil
}

// writeBindError はリクエストの解析・検証エラーを返す
func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:     "invalid_request",
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// writeError はエラーの種類に応じたステータスコードでエラーを返す
func writeError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		log.Printf("リクエストの処理に失敗しました (%s %s): %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, errorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// classifyError はエラーをHTTPステータスとエラーコードに変換する
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, timelapse.ErrNoCameras):
		return http.StatusBadRequest, "no_cameras"
	case errors.Is(err, timelapse.ErrNoImageURL):
		return http.StatusBadRequest, "no_image_url"
	case errors.Is(err, camera.ErrCameraNotFound):
		return http.StatusBadRequest, "camera_not_found"
	case errors.Is(err, errInvalidOutputPath):
		return http.StatusBadRequest, "invalid_output_path"
	case errors.Is(err, timelapse.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, timelapse.ErrSessionRecording):
		return http.StatusConflict, "session_recording"
	case errors.Is(err, timelapse.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, timelapse.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "unsupported_format"
	case errors.Is(err, timelapse.ErrNoFrames):
		return http.StatusUnprocessableEntity, "no_frames"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
