// Package httpclient は外部プロバイダのJSON APIを呼び出すHTTPクライアントを提供する。
//
// 検索プロバイダや推論エンドポイントなど、リクエストとレスポンスが
// JSONで完結する外部サービスとの通信パターンを統一する。
// リトライは行わず、失敗はそのまま呼び出し元に返す。
package httpclient
