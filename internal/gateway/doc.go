// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// ユーザー名とパスワードによるログイン、アクセストークンの発行、および
// blogサービスへのリクエスト転送を担当する。外部からアクセス可能な唯一の
// サービスであり、セキュリティの境界線として機能する。
//
// 書き込み系のリクエスト（POST/PUT/PATCH/DELETE）はBearerトークンによる認証を
// 必須とし、認証されたユーザー名を転送先に伝える。POST/PUT/PATCHではJSON
// ボディのusernameフィールドを呼び出し元のユーザー名で上書きするため、
// クライアントが他人になりすますことはできない。
//
// 読み取り系のリクエスト（GET/HEAD）は認証なしでそのまま転送する。
package gateway
