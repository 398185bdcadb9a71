// Package auth はgatewayの認証処理を提供する。
//
// パスワードはargon2idでハッシュ化して保存し、ログインに成功した
// ユーザーにはHS256で署名した有効期限付きのアクセストークンを発行する。
// トークンは永続化せず、失効は有効期限によってのみ行われる。
package auth
