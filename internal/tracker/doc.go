// Package tracker はトピック追跡パイプラインを提供する。
//
// 1件のリクエストは次の状態を順に遷移する。
//
//	RECEIVED → FETCHING → SUMMARIZING → PUBLISHING → ACCEPTED
//
// いずれかのステージが失敗した時点で実行は打ち切られ、失敗したステージと原因を
// *StageErrorとして返す。リトライは行わない。記事の取得と要約の両方に成功した
// 場合に限り、通知メッセージがブローカーに発行される。
//
// 各実行はHTTP呼び出し元のキャンセルから切り離され、ステージごとのタイムアウトで
// 打ち切られる。
package tracker
