// Package server は、タイムラプス操作のHTTP APIとイベント配信を提供します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// WebSocketによるライフサイクルイベントの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - セッションの開始・停止・削除・書き出しのリクエスト処理
//   - 再生用フレーム画像の配信
//   - WebSocket接続へのイベント配信
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - WebSocketはgorilla/websocketを使用
//   - リクエストIDはgoogle/uuidで採番
//   - グレースフルシャットダウン時は全ての録画を停止する
package server
