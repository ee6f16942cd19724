// Package camera はカメラディレクトリ（カメラ一覧の提供元）を扱う
//
// 責務:
//   - カメラID・表示名・設置場所・静止画URLの組を提供する
//   - 設定ファイル（YAML）からの読み込みと変更時の自動再読み込み
//
// 実装:
//   - StaticDirectory: 固定リストによる実装（設定ファイル内の定義・テスト用）
//   - FileDirectory: YAMLファイルによる実装。fsnotifyで変更を検知し、
//     利用できない環境ではポーリングにフォールバックする
//   - 再読み込みに失敗した場合は直前の一覧を保持する
//   - Thread-safe な操作をサポート
//
// ファイル形式:
//
//	cameras:
//	  - id: 1
//	    name: "TV103-A"
//	    address: "Alameda Principal"
//	    image_url: "http://example.com/camaras/103.jpg"
package camera
