package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teiten/internal/camera"
	"teiten/internal/config"
	"teiten/internal/pidfile"
	"teiten/internal/timelapse"
)

// requestIDHeader はリクエストIDを受け渡すヘッダー名
const requestIDHeader = "X-Request-ID"

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	manager    *timelapse.Manager
	directory  camera.Directory
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, manager *timelapse.Manager, directory camera.Directory) *Server {
	engine := gin.New()
	engine.Use(requestID(), gin.Logger(), gin.Recovery())

	s := &Server{
		config:    cfg,
		manager:   manager,
		directory: directory,
		engine:    engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := &handler{manager: s.manager, directory: s.directory, root: s.config.Timelapse.RootDir}

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", h.health)

	api := s.engine.Group("/api")
	api.GET("/status", h.status)
	api.GET("/cameras", h.listCameras)
	api.GET("/events", h.events)

	sessions := api.Group("/sessions")
	sessions.GET("", h.listSessions)
	sessions.POST("", h.startSessions)
	sessions.POST("/stop-all", h.stopAll)
	sessions.GET("/:id", h.getSession)
	sessions.DELETE("/:id", h.deleteSession)
	sessions.POST("/:id/stop", h.stopSession)
	sessions.POST("/:id/export", h.exportSession)
	sessions.GET("/:id/frames/:index", h.frame)

	api.POST("/exports", h.exportMultiple)
}

// requestID はリクエストごとにIDを割り当てるミドルウェア
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Start はサーバーを起動する
//
// コンテキストのキャンセルかSIGINT/SIGTERMを受けるとグレースフルに停止する。
func (s *Server) Start(ctx context.Context) error {
	// 同じ保存先をオフラインのコマンドや別のサーバーが書き換えないようにする
	lock, err := pidfile.New(pidfile.Path(s.config.Timelapse.RootDir))
	if err != nil {
		if closeErr := s.closeManager(); closeErr != nil {
			log.Printf("録画の停止に失敗しました: %v", closeErr)
		}
		return err
	}
	defer func() {
		if err := lock.Remove(); err != nil {
			log.Printf("PIDファイルの削除に失敗しました: %v", err)
		}
	}()

	if err := timelapse.CheckVideoEncoder(ctx, s.config.Timelapse.Export); err != nil {
		log.Printf("警告: 動画形式への書き出しは失敗します: %v", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	// カメラ定義ファイルの変更監視
	if dir, ok := s.directory.(*camera.FileDirectory); ok && s.config.Camera.Watch {
		go func() {
			if err := dir.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("カメラ定義の監視を終了しました: %v", err)
			}
		}()
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		stopWatch()
		if closeErr := s.closeManager(); closeErr != nil {
			log.Printf("録画の停止に失敗しました: %v", closeErr)
		}
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
//
// HTTPサーバーを止めた後、全ての録画を停止してマネージャーを閉じる。
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
	}
	if err := s.closeManager(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}

func (s *Server) closeManager() error {
	if s.manager == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if err := s.manager.Close(ctx); err != nil {
		return fmt.Errorf("録画マネージャーの停止に失敗: %w", err)
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.Server.ShutdownTimeout > 0 {
		return s.config.Server.ShutdownTimeout
	}
	return 5 * time.Second
}
