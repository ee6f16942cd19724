// Package timelapse カメラ静止画の定期撮影とセッション管理を担う
//
// # 責務
// - 録画セッションの作成・停止・削除と、同時録画数の上限管理
// - 撮影間隔ごとの静止画取得（共有ワーカープールで実行）
// - session.json と index.json によるセッション記録の永続化
// - 終了済みセッションのGIF・動画への書き出し
// - ライフサイクルイベントの配信
//
// # 構成
// - Manager: 表示層が操作する唯一の窓口
// - Recorder: 1セッションの定期撮影。Idle → Recording → Finished の一方向
// - Pool: 全セッション共有のワーカープール。外部への同時リクエスト数の上限
// - HTTPCapturer: 静止画の取得と保存
// - Exporter: GIF（image/gif）と動画（ffmpeg）への書き出し
// - Store: アトミックな書き込みによる永続化
//
// # ファイル配置
//
//	<root>/index.json
//	<root>/<camera-slug>/<yyyy-mm-dd>/session-<id>/session.json
//	<root>/<camera-slug>/<yyyy-mm-dd>/session-<id>/frames/frame_00001.jpg
package timelapse
