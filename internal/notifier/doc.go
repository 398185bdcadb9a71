// Package notifier はブローカーから通知メッセージを受け取り、要約とリンクを
// メールで送信する。
//
// 受け取ったメッセージは次のように扱う。
//   - デコードできない、または必須項目が欠けているメッセージは再キューせずにnackする。
//   - メール送信に成功したメッセージはackする。
//   - メール送信に失敗したメッセージは再キューせずにnackする。
package notifier
