package timelapse

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// naiveTimestampLayout はタイムゾーンなしの時刻表記（旧形式の記録）
const naiveTimestampLayout = "2006-01-02T15:04:05"

// FramesDir はフレーム画像の保存ディレクトリを返す
func (s *Session) FramesDir() string {
	return filepath.Join(s.BasePath, "frames")
}

// FramePaths は撮影順のフレーム画像パス一覧を返す
func (s *Session) FramePaths() []string {
	paths := make([]string, 0, len(s.Frames))
	for _, frame := range s.Frames {
		paths = append(paths, filepath.Join(s.FramesDir(), frame.Filename))
	}
	return paths
}

// AppendFrame はフレームを末尾に追加する
func (s *Session) AppendFrame(filename string, capturedAt time.Time) {
	s.Frames = append(s.Frames, Frame{Filename: filename, CapturedAt: capturedAt})
	s.FrameCount = len(s.Frames)
}

// MarkFinished はセッションを完了状態にする。終了時刻は最初の1回だけ設定する
func (s *Session) MarkFinished(now time.Time) {
	if s.EndedAt == nil {
		ended := normalizeTime(now)
		s.EndedAt = &ended
	}
	s.Status = StatusFinished
}

// DurationSeconds は録画時間（秒）を返す。フレームがなければ0
func (s *Session) DurationSeconds(now time.Time) int {
	if len(s.Frames) == 0 {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return int(end.Sub(s.StartedAt).Seconds())
}

// HasFormat は指定形式で書き出し済みかを大文字小文字を区別せず判定する
func (s *Session) HasFormat(format string) bool {
	for _, f := range s.ExportedFormats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// RegisterExport は書き出し済み形式を記録する。既に記録済みなら何もしない
func (s *Session) RegisterExport(format string) {
	if s.HasFormat(format) {
		return
	}
	s.ExportedFormats = append(s.ExportedFormats, strings.ToLower(format))
}

// Clone はディープコピーを返す
func (s *Session) Clone() Session {
	c := *s
	if s.DurationLimit != nil {
		limit := *s.DurationLimit
		c.DurationLimit = &limit
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	c.Frames = append([]Frame(nil), s.Frames...)
	c.ExportedFormats = append([]string(nil), s.ExportedFormats...)
	return c
}

// normalizeTime は保存形式に合わせてUTCの秒単位に丸める
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTimestamp はRFC3339と旧形式の両方を受け付ける
func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return normalizeTime(t), nil
	}
	t, err := time.ParseInLocation(naiveTimestampLayout, strings.SplitN(value, ".", 2)[0], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("時刻の形式が不正です: %q", value)
	}
	return normalizeTime(t), nil
}

// flexInt は数値・数値文字列・小数のいずれでも受け付ける整数
type flexInt struct {
	value int
	set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.TrimSpace(strings.Trim(raw, `"`))
	if raw == "" {
		return nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		f.value, f.set = n, true
		return nil
	}
	fl, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("数値に変換できません: %s", data)
	}
	f.value, f.set = int(fl), true
	return nil
}

func (f flexInt) or(def int) int {
	if !f.set {
		return def
	}
	return f.value
}

type frameRecord struct {
	Filename   string `json:"filename"`
	CapturedAt string `json:"captured_at"`
}

// sessionRecord はsession.json上の表現
type sessionRecord struct {
	SessionID       string        `json:"session_id"`
	CameraID        int           `json:"camera_id"`
	CameraName      string        `json:"camera_name"`
	CameraAddress   string        `json:"camera_address"`
	ImageURL        string        `json:"image_url"`
	Interval        int           `json:"interval"`
	StartedAt       string        `json:"started_at"`
	BasePath        string        `json:"base_path"`
	Status          Status        `json:"status"`
	EndedAt         *string       `json:"ended_at"`
	FrameCount      int           `json:"frame_count"`
	Frames          []frameRecord `json:"frames"`
	DurationLimit   *int          `json:"duration_limit"`
	ExportedFormats []string      `json:"exported_formats"`
}

// sessionInput は読み込み時の緩い表現。欠損・型揺れを許容する
type sessionInput struct {
	SessionID       string        `json:"session_id"`
	CameraID        flexInt       `json:"camera_id"`
	CameraName      string        `json:"camera_name"`
	CameraAddress   string        `json:"camera_address"`
	ImageURL        string        `json:"image_url"`
	Interval        flexInt       `json:"interval"`
	StartedAt       string        `json:"started_at"`
	BasePath        string        `json:"base_path"`
	Status          string        `json:"status"`
	EndedAt         *string       `json:"ended_at"`
	FrameCount      flexInt       `json:"frame_count"`
	Frames          []frameRecord `json:"frames"`
	DurationLimit   flexInt       `json:"duration_limit"`
	ExportedFormats []string      `json:"exported_formats"`
}

// MarshalJSON はsession.jsonの形式に変換する
func (s Session) MarshalJSON() ([]byte, error) {
	rec := sessionRecord{
		SessionID:       s.SessionID,
		CameraID:        s.CameraID,
		CameraName:      s.CameraName,
		CameraAddress:   s.CameraAddress,
		ImageURL:        s.ImageURL,
		Interval:        s.Interval,
		StartedAt:       formatTimestamp(s.StartedAt),
		BasePath:        s.BasePath,
		Status:          s.Status,
		FrameCount:      len(s.Frames),
		Frames:          make([]frameRecord, 0, len(s.Frames)),
		DurationLimit:   s.DurationLimit,
		ExportedFormats: s.ExportedFormats,
	}
	if rec.ExportedFormats == nil {
		rec.ExportedFormats = []string{}
	}
	if s.EndedAt != nil {
		ended := formatTimestamp(*s.EndedAt)
		rec.EndedAt = &ended
	}
	for _, frame := range s.Frames {
		rec.Frames = append(rec.Frames, frameRecord{
			Filename:   frame.Filename,
			CapturedAt: formatTimestamp(frame.CapturedAt),
		})
	}
	return json.Marshal(rec)
}

// UnmarshalJSON はsession.jsonを読み込む。欠損フィールドはデフォルト値で補う
func (s *Session) UnmarshalJSON(data []byte) error {
	var in sessionInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("セッション記録の解析に失敗: %w", err)
	}

	now := normalizeTime(time.Now())
	out := Session{
		SessionID:       in.SessionID,
		CameraID:        in.CameraID.or(0),
		CameraName:      in.CameraName,
		CameraAddress:   in.CameraAddress,
		ImageURL:        in.ImageURL,
		Interval:        in.Interval.or(1),
		StartedAt:       now,
		BasePath:        in.BasePath,
		Status:          StatusRecording,
		Frames:          make([]Frame, 0, len(in.Frames)),
		ExportedFormats: append([]string{}, in.ExportedFormats...),
	}
	if in.Status == string(StatusFinished) {
		out.Status = StatusFinished
	}
	if in.StartedAt != "" {
		started, err := parseTimestamp(in.StartedAt)
		if err != nil {
			return err
		}
		out.StartedAt = started
	}
	if in.EndedAt != nil && *in.EndedAt != "" {
		ended, err := parseTimestamp(*in.EndedAt)
		if err != nil {
			return err
		}
		out.EndedAt = &ended
	}
	if in.DurationLimit.set {
		limit := in.DurationLimit.value
		out.DurationLimit = &limit
	}
	for _, fr := range in.Frames {
		capturedAt := now
		if fr.CapturedAt != "" {
			t, err := parseTimestamp(fr.CapturedAt)
			if err != nil {
				return err
			}
			capturedAt = t
		}
		out.Frames = append(out.Frames, Frame{Filename: fr.Filename, CapturedAt: capturedAt})
	}
	// frame_count は常にフレーム数から再計算する
	out.FrameCount = len(out.Frames)

	*s = out
	return nil
}
