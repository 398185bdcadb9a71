// Package message はtopictrackerとnotifierの間でやり取りする通知メッセージの
// ワイヤ形式を定義する。
//
// メッセージはJSONでシリアライズされ、topic exchange "llm_comms" に
// ルーティングキー "summary.email" で発行される。発行側と購読側は
// このパッケージの型と定数のみを共有する。
package message
